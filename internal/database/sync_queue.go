package database

import (
	"context"
	"fmt"
	"time"

	"shareit/internal/models"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	payload, err := encodeSyncPayload(task)
	if err != nil {
		return err
	}
	if task.Status == "" {
		task.Status = models.SyncPending
	}
	now := time.Now()
	result, err := db.ExecContext(ctx,
		`INSERT INTO sync_queue (task_type, booking_id, payload, status, attempts, last_error, created_at, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.BookingID, payload, task.Status, task.Attempts, task.LastError,
		now.Unix(), unixOrZero(task.NextRetryAt))
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = models.Truncate(now)
	return nil
}

// GetPendingSyncTasks returns tasks that are due at now, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, now time.Time, limit int) ([]*models.SyncTask, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, task_type, booking_id, payload, status, attempts, last_error, created_at, next_retry_at
		 FROM sync_queue
		 WHERE status = ? AND next_retry_at <= ?
		 ORDER BY created_at, id LIMIT ?`,
		models.SyncPending, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.SyncTask
	for rows.Next() {
		var (
			t                models.SyncTask
			payload          string
			created, nextTry int64
		)
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &payload, &t.Status,
			&t.Attempts, &t.LastError, &created, &nextTry); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		t.CreatedAt = fromUnix(created)
		t.NextRetryAt = fromUnix(nextTry)
		if err := decodeSyncPayload(payload, &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// UpdateSyncTaskStatus records a processing outcome. A non-nil nextRetryAt
// puts the task back in the pending set and counts an attempt.
func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var err error
	if nextRetryAt != nil {
		_, err = db.ExecContext(ctx,
			`UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, attempts = attempts + 1 WHERE id = ?`,
			status, errMsg, nextRetryAt.Unix(), id)
	} else {
		_, err = db.ExecContext(ctx,
			`UPDATE sync_queue SET status = ?, last_error = ? WHERE id = ?`, status, errMsg, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	return nil
}

func encodeSyncPayload(task *models.SyncTask) (string, error) {
	if task.Booking == nil {
		return "", nil
	}
	data, err := json.Marshal(task.Booking)
	if err != nil {
		return "", fmt.Errorf("failed to encode sync payload: %w", err)
	}
	return string(data), nil
}

func decodeSyncPayload(payload string, task *models.SyncTask) error {
	if payload == "" {
		return nil
	}
	var b models.Booking
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return fmt.Errorf("failed to decode sync payload for task %d: %w", task.ID, err)
	}
	task.Booking = &b
	return nil
}
