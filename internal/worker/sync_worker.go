package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shareit/internal/domain"
	"shareit/internal/metrics"
	"shareit/internal/models"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	redisQueueKey = "sheets:queue"
	deadLetterKey = "sheets:deadletter"
)

// SyncWorker mirrors booking snapshots to the bookings sheet. Tasks are
// persisted first, then handed over through Redis or an in-memory channel;
// the database queue is polled for anything the fast path missed.
type SyncWorker struct {
	store        domain.SyncQueueRepository
	sheets       domain.SheetsWriter
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.SyncTask
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
	now          func() time.Time
}

var _ domain.SyncWorker = (*SyncWorker)(nil)

// NewSyncWorker builds a worker. redisClient may be nil.
func NewSyncWorker(store domain.SyncQueueRepository, sheets domain.SheetsWriter, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SyncWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sync_worker").Logger()
	}

	return &SyncWorker{
		store:        store,
		sheets:       sheets,
		redis:        redisClient,
		retryPolicy:  retry,
		queue:        make(chan models.SyncTask, models.WorkerQueueSize),
		pollInterval: 2 * time.Second,
		batchSize:    20,
		logger:       l,
		now:          time.Now,
	}
}

// EnqueueTask persists a task for booking and schedules it.
func (w *SyncWorker) EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error {
	if taskType != models.TaskUpsertBooking && taskType != models.TaskUpdateStatus {
		return fmt.Errorf("unknown task type: %q", taskType)
	}
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}

	snapshot := *booking
	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: booking.ID,
		Booking:   &snapshot,
		Status:    models.SyncPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, redisQueueKey, &task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, using memory queue")
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs the worker loop until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	for ctx.Err() == nil {
		if !w.RunOnce(ctx) {
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// RunOnce processes whatever is ready: one queued task, or a batch of due
// tasks from the store. It reports whether anything was processed.
func (w *SyncWorker) RunOnce(ctx context.Context) bool {
	if t, ok := w.tryLocalQueue(); ok {
		w.processTask(ctx, &t)
		return true
	}
	if t, ok := w.tryRedis(ctx); ok {
		w.processTask(ctx, &t)
		return true
	}

	tasks, err := w.store.GetPendingSyncTasks(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending sync tasks")
		return false
	}
	for _, t := range tasks {
		w.processTask(ctx, t)
	}
	return len(tasks) > 0
}

func (w *SyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *SyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncProcessing, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark processing")
	}

	if err := w.apply(ctx, task); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncSyncTask(models.SyncCompleted)
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *SyncWorker) apply(ctx context.Context, task *models.SyncTask) error {
	if task.Booking == nil {
		return errors.New("booking payload missing")
	}
	switch task.TaskType {
	case models.TaskUpsertBooking:
		return w.sheets.UpsertBooking(ctx, task.Booking)
	case models.TaskUpdateStatus:
		return w.sheets.UpdateBookingStatus(ctx, task.BookingID, task.Booking.Status)
	default:
		return fmt.Errorf("unknown task type: %s", task.TaskType)
	}
}

func (w *SyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.Attempts + 1
	if attempt >= w.retryPolicy.MaxRetries {
		metrics.IncSyncTask(models.SyncFailed)
		w.logger.Error().Err(cause).Int64("task_id", task.ID).Int("attempts", attempt).Msg("sync task failed")
		if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncFailed, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
		}
		w.pushDeadLetter(ctx, task)
		return
	}

	metrics.IncSyncTask("retry")
	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Time("next_retry_at", next).Msg("sync task will be retried")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncPending, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *SyncWorker) pushRedis(ctx context.Context, key string, task *models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *SyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("dead letter push failed")
	}
}
