package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shareit/internal/config"
	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/metrics"
	"shareit/internal/models"
	"shareit/internal/worker"

	"github.com/rs/zerolog"
)

// BookingService is the reservation engine: interval admission, the
// decision lifecycle and the temporal booking queries.
type BookingService struct {
	repo       domain.Repository
	locker     domain.ItemLocker
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	retry      worker.RetryPolicy
	lockTTL    time.Duration
	maxPage    int
	logger     zerolog.Logger
	now        func() time.Time
}

var _ domain.BookingService = (*BookingService)(nil)

// NewBookingService wires the engine. locker, eventBus and syncWorker may
// be nil.
func NewBookingService(
	repo domain.Repository,
	locker domain.ItemLocker,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = models.DefaultLockTTL
	}
	if cfg.MaxPage <= 0 {
		cfg.MaxPage = models.MaxPageSize
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "booking_service").Logger()
	}
	return &BookingService{
		repo:       repo,
		locker:     locker,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		retry:      worker.ConflictRetry(cfg.RetryDelay, cfg.MaxRetryDelay),
		lockTTL: cfg.LockTTL,
		maxPage: cfg.MaxPage,
		logger:  l,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for "now".
func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

func (s *BookingService) clock() time.Time {
	return models.Truncate(s.now())
}

func (s *BookingService) CreateBooking(ctx context.Context, requesterID, itemID int64, start, end time.Time) (*models.Booking, error) {
	booking, err := s.createBooking(ctx, requesterID, itemID, start, end)
	if err != nil {
		metrics.IncBookingRejected(domain.Kind(err))
		s.logFailure(err, "create booking rejected", func(e *zerolog.Event) {
			e.Int64("requester_id", requesterID).Int64("item_id", itemID)
		})
		return nil, err
	}

	metrics.IncBookingCreated()
	s.logger.Info().Int64("booking_id", booking.ID).Int64("item_id", itemID).Int64("booker_id", requesterID).Msg("booking created")
	s.publishEvent(events.EventBookingCreated, booking, 0)
	s.enqueueSync(ctx, models.TaskUpsertBooking, booking)
	return booking, nil
}

func (s *BookingService) createBooking(ctx context.Context, requesterID, itemID int64, start, end time.Time) (*models.Booking, error) {
	now := s.clock()

	if _, err := s.repo.GetUserByID(ctx, requesterID); err != nil {
		return nil, err
	}
	item, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID == requesterID {
		return nil, domain.AccessDeniedf("owner cannot book own item")
	}
	if !item.Available {
		return nil, domain.Validationf("item %d is not available for booking", itemID)
	}

	start, end = models.Truncate(start), models.Truncate(end)
	if err := validateInterval(start, end, now); err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ItemID:    item.ID,
		BookerID:  requesterID,
		OwnerID:   item.OwnerID,
		Start:     start,
		End:       end,
		Status:    models.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.insertWithRetry(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func validateInterval(start, end, now time.Time) error {
	if start.IsZero() || end.IsZero() {
		return domain.Validationf("start and end are required")
	}
	if start.Before(now) {
		return domain.Validationf("start must not be in the past")
	}
	if !end.After(start) {
		return domain.Validationf("end must be after start")
	}
	if !end.After(now) {
		return domain.Validationf("end must be in the future")
	}
	return nil
}

// insertWithRetry runs the atomic check-and-insert, retrying once on a
// serialization conflict or a busy item lock. A second conflict is reported
// as the interval being taken; a lock that stays busy is an internal error.
func (s *BookingService) insertWithRetry(ctx context.Context, booking *models.Booking) error {
	for attempt := 1; ; attempt++ {
		err := s.insertOnce(ctx, booking)
		lockBusy := errors.Is(err, domain.ErrLockBusy)
		if !lockBusy && !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if !s.retry.Allows(attempt) {
			s.logger.Warn().Err(err).Int64("item_id", booking.ItemID).Msg("conflict persisted after retry")
			if lockBusy {
				return fmt.Errorf("item %d is busy, retry later: %w", booking.ItemID, err)
			}
			return domain.ErrIntervalReserved
		}

		metrics.IncConflictRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry.NextDelay(attempt)):
		}
	}
}

func (s *BookingService) insertOnce(ctx context.Context, booking *models.Booking) error {
	if s.locker != nil {
		token, err := s.locker.Acquire(ctx, booking.ItemID, s.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockBusy) {
				return err
			}
			return fmt.Errorf("acquire item lock: %w", err)
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), booking.ItemID, token); err != nil {
				s.logger.Error().Err(err).Int64("item_id", booking.ItemID).Msg("release item lock")
			}
		}()
	}
	return s.repo.CreateBookingWithLock(ctx, booking)
}

func (s *BookingService) DecideBooking(ctx context.Context, bookingID, deciderID int64, approve bool) (*models.Booking, error) {
	booking, err := s.decideBooking(ctx, bookingID, deciderID, approve)
	if err != nil {
		s.logFailure(err, "decide booking rejected", func(e *zerolog.Event) {
			e.Int64("booking_id", bookingID).Int64("decider_id", deciderID).Bool("approve", approve)
		})
		return nil, err
	}

	metrics.IncDecision(booking.Status)
	s.logger.Info().Int64("booking_id", booking.ID).Str("status", booking.Status).Msg("booking decided")

	eventType := events.EventBookingRejected
	if booking.Status == models.StatusApproved {
		eventType = events.EventBookingApproved
	}
	s.publishEvent(eventType, booking, deciderID)
	s.enqueueSync(ctx, models.TaskUpdateStatus, booking)
	return booking, nil
}

func (s *BookingService) decideBooking(ctx context.Context, bookingID, deciderID int64, approve bool) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.OwnerID != deciderID {
		return nil, domain.AccessDeniedf("only the owner may decide")
	}
	if booking.IsDecided() {
		return nil, domain.ErrAlreadyDecided
	}

	status := models.StatusRejected
	if approve {
		status = models.StatusApproved
	}
	err = s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, status)
	if errors.Is(err, domain.ErrConcurrentModification) {
		return nil, domain.ErrAlreadyDecided
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.GetBooking(ctx, booking.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", booking.ID).Msg("reload decided booking")
		booking.Status = status
		booking.Version++
		booking.UpdatedAt = s.clock()
		return booking, nil
	}
	return updated, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID, callerID int64) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if callerID != booking.BookerID && callerID != booking.OwnerID {
		return nil, domain.AccessDeniedf("booking %d is visible only to its booker and owner", bookingID)
	}
	return booking, nil
}

func (s *BookingService) ListBookerBookings(ctx context.Context, bookerID int64, state string, offset, limit int) ([]*models.Booking, error) {
	q, err := s.buildQuery(ctx, bookerID, state, offset, limit)
	if err != nil {
		return nil, err
	}
	q.BookerID = bookerID
	return s.listPaged(ctx, q)
}

func (s *BookingService) ListOwnerBookings(ctx context.Context, ownerID int64, state string, offset, limit int) ([]*models.Booking, error) {
	q, err := s.buildQuery(ctx, ownerID, state, offset, limit)
	if err != nil {
		return nil, err
	}
	q.OwnerID = ownerID
	return s.listPaged(ctx, q)
}

// buildQuery validates list arguments and captures one "now" for the call.
func (s *BookingService) buildQuery(ctx context.Context, subjectID int64, state string, offset, limit int) (models.BookingQuery, error) {
	if _, err := s.repo.GetUserByID(ctx, subjectID); err != nil {
		return models.BookingQuery{}, err
	}
	if offset < 0 {
		return models.BookingQuery{}, domain.Validationf("from must not be negative")
	}
	if limit <= 0 {
		return models.BookingQuery{}, domain.Validationf("size must be positive")
	}
	parsed, ok := models.ParseBookingState(state)
	if !ok {
		return models.BookingQuery{}, domain.Validationf("Unknown state: %s", state)
	}
	return models.BookingQuery{
		State:  parsed,
		Now:    s.clock(),
		Offset: offset,
		Limit:  limit,
	}, nil
}

// listPaged returns the slice [q.Offset, q.Offset+q.Limit) of the ordered
// result, reading it from the repository in chunks of at most maxPage rows.
func (s *BookingService) listPaged(ctx context.Context, q models.BookingQuery) ([]*models.Booking, error) {
	if q.Limit <= s.maxPage {
		return s.repo.ListBookings(ctx, q)
	}

	want := q.Limit
	out := make([]*models.Booking, 0, s.maxPage)
	for len(out) < want {
		q.Limit = min(s.maxPage, want-len(out))
		chunk, err := s.repo.ListBookings(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if len(chunk) < q.Limit {
			break
		}
		q.Offset += len(chunk)
	}
	return out, nil
}

// HasCompletedRental reports whether userID has a booking of itemID that
// ended before now, whatever its status.
func (s *BookingService) HasCompletedRental(ctx context.Context, userID, itemID int64) (bool, error) {
	return s.repo.HasCompletedRental(ctx, userID, itemID, s.clock())
}

func (s *BookingService) logFailure(err error, msg string, fields func(*zerolog.Event)) {
	event := s.logger.Warn()
	if domain.Kind(err) == "internal" {
		event = s.logger.Error()
	}
	fields(event)
	event.Err(err).Msg(msg)
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, decidedBy int64) {
	if s.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID: b.ID,
		ItemID:    b.ItemID,
		BookerID:  b.BookerID,
		OwnerID:   b.OwnerID,
		Status:    b.Status,
		Start:     b.Start,
		End:       b.End,
		DecidedBy: decidedBy,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, taskType string, b *models.Booking) {
	if s.syncWorker == nil {
		return
	}
	if err := s.syncWorker.EnqueueTask(ctx, taskType, b); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
