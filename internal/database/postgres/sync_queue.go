package postgres

import (
	"context"
	"fmt"
	"time"

	"shareit/internal/models"

	"github.com/doug-martin/goqu/v9"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *Store) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	var payload []byte
	if task.Booking != nil {
		data, err := json.Marshal(task.Booking)
		if err != nil {
			return fmt.Errorf("failed to encode sync payload: %w", err)
		}
		payload = data
	}
	if task.Status == "" {
		task.Status = models.SyncPending
	}
	nextRetry := task.NextRetryAt
	if nextRetry.IsZero() {
		nextRetry = time.Unix(0, 0).UTC()
	}
	now := models.Truncate(time.Now())

	query, args, err := render(s.builder.Insert(tableSyncQueue).Prepared(true).
		Rows(goqu.Record{
			"task_type":     task.TaskType,
			"booking_id":    task.BookingID,
			"payload":       payload,
			"status":        task.Status,
			"attempts":      task.Attempts,
			"last_error":    task.LastError,
			"created_at":    now,
			"next_retry_at": nextRetry,
		}).
		Returning("id"))
	if err != nil {
		return err
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&task.ID); err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	task.CreatedAt = now
	return nil
}

func (s *Store) GetPendingSyncTasks(ctx context.Context, now time.Time, limit int) ([]*models.SyncTask, error) {
	query, args, err := render(s.builder.From(tableSyncQueue).Prepared(true).
		Select("id", "task_type", "booking_id", "payload", "status", "attempts", "last_error", "created_at", "next_retry_at").
		Where(goqu.C("status").Eq(models.SyncPending), goqu.C("next_retry_at").Lte(now)).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		Limit(uint(limit)))
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.SyncTask
	for rows.Next() {
		var (
			t       models.SyncTask
			payload []byte
		)
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &payload, &t.Status,
			&t.Attempts, &t.LastError, &t.CreatedAt, &t.NextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		t.CreatedAt = utc(t.CreatedAt)
		t.NextRetryAt = utc(t.NextRetryAt)
		if len(payload) > 0 {
			var b models.Booking
			if err := json.Unmarshal(payload, &b); err != nil {
				return nil, fmt.Errorf("failed to decode sync payload for task %d: %w", t.ID, err)
			}
			t.Booking = &b
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	record := goqu.Record{"status": status, "last_error": errMsg}
	if nextRetryAt != nil {
		record["next_retry_at"] = nextRetryAt.UTC()
		record["attempts"] = goqu.L("attempts + 1")
	}
	query, args, err := render(s.builder.Update(tableSyncQueue).Prepared(true).
		Set(record).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	return nil
}
