package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"shareit/internal/config"
	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

func testBookingConfig() config.BookingConfig {
	return config.BookingConfig{
		LockTTL:       time.Second,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		MaxPage:       100,
	}
}

func newMockedService(repo *mockRepo, locker *mockLocker, bus *mockEventBus, w *mockWorker) *BookingService {
	logger := zerolog.New(io.Discard)
	var (
		l  domain.ItemLocker
		b  domain.EventPublisher
		sw domain.SyncWorker
	)
	if locker != nil {
		l = locker
	}
	if bus != nil {
		b = bus
	}
	if w != nil {
		sw = w
	}
	return NewBookingService(repo, l, b, sw, testBookingConfig(), &logger).
		WithClock(func() time.Time { return testNow })
}

func at(h int) time.Time {
	return testNow.Add(time.Duration(h) * time.Hour)
}

func TestCreateBooking_Checks(t *testing.T) {
	ctx := context.Background()
	booker := &models.User{ID: 1, Name: "booker"}
	item := &models.Item{ID: 10, OwnerID: 2, Available: true}

	t.Run("UnknownRequester", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetUserByID", ctx, int64(1)).Return(nil, domain.NotFoundf("user 1 not found"))
		svc := newMockedService(repo, nil, nil, nil)

		_, err := svc.CreateBooking(ctx, 1, 10, at(2), at(3))
		assert.ErrorIs(t, err, domain.ErrNotFound)
		repo.AssertNotCalled(t, "GetItemByID", mock.Anything, mock.Anything)
	})

	t.Run("UnknownItem", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetUserByID", ctx, int64(1)).Return(booker, nil)
		repo.On("GetItemByID", ctx, int64(10)).Return(nil, domain.NotFoundf("item 10 not found"))
		svc := newMockedService(repo, nil, nil, nil)

		_, err := svc.CreateBooking(ctx, 1, 10, at(2), at(3))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("OwnerCannotBook", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetUserByID", ctx, int64(2)).Return(&models.User{ID: 2}, nil)
		repo.On("GetItemByID", ctx, int64(10)).Return(item, nil)
		svc := newMockedService(repo, nil, nil, nil)

		_, err := svc.CreateBooking(ctx, 2, 10, at(2), at(3))
		assert.ErrorIs(t, err, domain.ErrAccessDenied)
		repo.AssertNotCalled(t, "CreateBookingWithLock", mock.Anything, mock.Anything)
	})

	t.Run("ItemNotListed", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetUserByID", ctx, int64(1)).Return(booker, nil)
		repo.On("GetItemByID", ctx, int64(10)).Return(&models.Item{ID: 10, OwnerID: 2}, nil)
		svc := newMockedService(repo, nil, nil, nil)

		// Unavailability is reported before a bad interval.
		_, err := svc.CreateBooking(ctx, 1, 10, at(3), at(2))
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "not available")
	})

	intervals := []struct {
		name       string
		start, end time.Time
		reason     string
	}{
		{"StartInPast", at(-1), at(2), "start must not be in the past"},
		{"EndBeforeStart", at(3), at(2), "end must be after start"},
		{"EmptyInterval", at(3), at(3), "end must be after start"},
		{"ZeroTimes", time.Time{}, time.Time{}, "start and end are required"},
	}
	for _, tc := range intervals {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(mockRepo)
			repo.On("GetUserByID", ctx, int64(1)).Return(booker, nil)
			repo.On("GetItemByID", ctx, int64(10)).Return(item, nil)
			svc := newMockedService(repo, nil, nil, nil)

			_, err := svc.CreateBooking(ctx, 1, 10, tc.start, tc.end)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, tc.reason, domain.Reason(err))
		})
	}

	t.Run("StartAtNowAllowed", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetUserByID", ctx, int64(1)).Return(booker, nil)
		repo.On("GetItemByID", ctx, int64(10)).Return(item, nil)
		repo.On("CreateBookingWithLock", ctx, mock.AnythingOfType("*models.Booking")).Return(nil)
		svc := newMockedService(repo, nil, nil, nil)

		_, err := svc.CreateBooking(ctx, 1, 10, testNow.Add(500*time.Millisecond), at(1))
		assert.NoError(t, err)
	})
}

func TestCreateBooking_Success(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	locker := new(mockLocker)
	bus := new(mockEventBus)
	w := new(mockWorker)
	svc := newMockedService(repo, locker, bus, w)

	repo.On("GetUserByID", ctx, int64(1)).Return(&models.User{ID: 1}, nil)
	repo.On("GetItemByID", ctx, int64(10)).Return(&models.Item{ID: 10, OwnerID: 2, Available: true}, nil)
	locker.On("Acquire", ctx, int64(10), time.Second).Return("tok", nil).Once()
	locker.On("Release", mock.Anything, int64(10), "tok").Return(nil).Once()
	repo.On("CreateBookingWithLock", ctx, mock.MatchedBy(func(b *models.Booking) bool {
		return b.ItemID == 10 && b.BookerID == 1 && b.OwnerID == 2 &&
			b.Status == models.StatusWaiting && b.CreatedAt.Equal(testNow)
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Booking).ID = 42
	}).Return(nil).Once()
	bus.On("PublishJSON", events.EventBookingCreated, mock.MatchedBy(func(p events.BookingEventPayload) bool {
		return p.BookingID == 42 && p.OwnerID == 2
	})).Return(nil).Once()
	w.On("EnqueueTask", ctx, models.TaskUpsertBooking, mock.AnythingOfType("*models.Booking")).Return(nil).Once()

	booking, err := svc.CreateBooking(ctx, 1, 10, at(2).Add(300*time.Millisecond), at(3))
	require.NoError(t, err)
	assert.Equal(t, int64(42), booking.ID)
	assert.Equal(t, at(2), booking.Start, "instants are truncated to seconds")

	repo.AssertExpectations(t)
	locker.AssertExpectations(t)
	bus.AssertExpectations(t)
	w.AssertExpectations(t)
}

func TestCreateBooking_ConflictRetry(t *testing.T) {
	ctx := context.Background()
	setup := func() (*mockRepo, *mockLocker, *BookingService) {
		repo := new(mockRepo)
		locker := new(mockLocker)
		repo.On("GetUserByID", ctx, int64(1)).Return(&models.User{ID: 1}, nil)
		repo.On("GetItemByID", ctx, int64(10)).Return(&models.Item{ID: 10, OwnerID: 2, Available: true}, nil)
		return repo, locker, newMockedService(repo, locker, nil, nil)
	}

	t.Run("RetriedOnceThenSucceeds", func(t *testing.T) {
		repo, locker, svc := setup()
		locker.On("Acquire", ctx, int64(10), time.Second).Return("tok", nil).Twice()
		locker.On("Release", mock.Anything, int64(10), "tok").Return(nil).Twice()
		repo.On("CreateBookingWithLock", ctx, mock.Anything).Return(domain.ErrConflict).Once()
		repo.On("CreateBookingWithLock", ctx, mock.Anything).Return(nil).Once()

		_, err := svc.CreateBooking(ctx, 1, 10, at(2), at(3))
		require.NoError(t, err)
		repo.AssertNumberOfCalls(t, "CreateBookingWithLock", 2)
		locker.AssertExpectations(t)
	})

	t.Run("SecondConflictBecomesValidation", func(t *testing.T) {
		repo, locker, svc := setup()
		locker.On("Acquire", ctx, int64(10), time.Second).Return("tok", nil)
		locker.On("Release", mock.Anything, int64(10), "tok").Return(nil)
		repo.On("CreateBookingWithLock", ctx, mock.Anything).Return(domain.ErrConflict)

		_, err := svc.CreateBooking(ctx, 1, 10, at(2), at(3))
		assert.ErrorIs(t, err, domain.ErrIntervalReserved)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, "interval already reserved", domain.Reason(err))
		repo.AssertNumberOfCalls(t, "CreateBookingWithLock", 2)
	})

	t.Run("BusyLockIsRetriedThenInternal", func(t *testing.T) {
		repo, locker, svc := setup()
		locker.On("Acquire", ctx, int64(10), time.Second).Return("", domain.ErrLockBusy)

		_, err := svc.CreateBooking(ctx, 1, 10, at(2), at(3))
		require.ErrorIs(t, err, domain.ErrLockBusy)
		assert.NotErrorIs(t, err, domain.ErrIntervalReserved)
		assert.Equal(t, "internal", domain.Kind(err))
		locker.AssertNumberOfCalls(t, "Acquire", 2)
		repo.AssertNotCalled(t, "CreateBookingWithLock", mock.Anything, mock.Anything)
	})

	t.Run("LockFailureIsInternal", func(t *testing.T) {
		repo, locker, svc := setup()
		locker.On("Acquire", ctx, int64(10), time.Second).Return("", errors.New("dial tcp: refused"))

		_, err := svc.CreateBooking(ctx, 1, 10, at(2), at(3))
		require.Error(t, err)
		assert.Equal(t, "internal", domain.Kind(err))
		repo.AssertNotCalled(t, "CreateBookingWithLock", mock.Anything, mock.Anything)
	})

	t.Run("OverlapIsNotRetried", func(t *testing.T) {
		repo, locker, svc := setup()
		locker.On("Acquire", ctx, int64(10), time.Second).Return("tok", nil)
		locker.On("Release", mock.Anything, int64(10), "tok").Return(nil)
		repo.On("CreateBookingWithLock", ctx, mock.Anything).Return(domain.ErrIntervalReserved)

		_, err := svc.CreateBooking(ctx, 1, 10, at(2), at(3))
		assert.ErrorIs(t, err, domain.ErrIntervalReserved)
		repo.AssertNumberOfCalls(t, "CreateBookingWithLock", 1)
	})
}

func TestDecideBooking(t *testing.T) {
	ctx := context.Background()
	waiting := func() *models.Booking {
		return &models.Booking{ID: 5, ItemID: 10, BookerID: 1, OwnerID: 2, Status: models.StatusWaiting, Version: 3}
	}

	t.Run("NotFound", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetBooking", ctx, int64(5)).Return(nil, domain.NotFoundf("booking 5 not found"))
		_, err := newMockedService(repo, nil, nil, nil).DecideBooking(ctx, 5, 2, true)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("NonOwner", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetBooking", ctx, int64(5)).Return(waiting(), nil)
		_, err := newMockedService(repo, nil, nil, nil).DecideBooking(ctx, 5, 1, true)
		require.ErrorIs(t, err, domain.ErrAccessDenied)
		assert.Equal(t, "only the owner may decide", domain.Reason(err))
	})

	t.Run("AlreadyDecided", func(t *testing.T) {
		repo := new(mockRepo)
		decided := waiting()
		decided.Status = models.StatusRejected
		repo.On("GetBooking", ctx, int64(5)).Return(decided, nil)
		_, err := newMockedService(repo, nil, nil, nil).DecideBooking(ctx, 5, 2, true)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, "already decided", domain.Reason(err))
	})

	t.Run("LostRace", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetBooking", ctx, int64(5)).Return(waiting(), nil)
		repo.On("UpdateBookingStatusWithVersion", ctx, int64(5), int64(3), models.StatusApproved).Return(domain.ErrConcurrentModification)
		_, err := newMockedService(repo, nil, nil, nil).DecideBooking(ctx, 5, 2, true)
		assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	})

	t.Run("Approve", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		w := new(mockWorker)
		approved := waiting()
		approved.Status = models.StatusApproved
		approved.Version = 4
		repo.On("GetBooking", ctx, int64(5)).Return(waiting(), nil).Once()
		repo.On("UpdateBookingStatusWithVersion", ctx, int64(5), int64(3), models.StatusApproved).Return(nil)
		repo.On("GetBooking", ctx, int64(5)).Return(approved, nil).Once()
		bus.On("PublishJSON", events.EventBookingApproved, mock.MatchedBy(func(p events.BookingEventPayload) bool {
			return p.DecidedBy == 2 && p.Status == models.StatusApproved
		})).Return(nil)
		w.On("EnqueueTask", ctx, models.TaskUpdateStatus, approved).Return(nil)

		got, err := newMockedService(repo, nil, bus, w).DecideBooking(ctx, 5, 2, true)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, got.Status)
		bus.AssertExpectations(t)
		w.AssertExpectations(t)
	})

	t.Run("RejectWithReloadFailure", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("GetBooking", ctx, int64(5)).Return(waiting(), nil).Once()
		repo.On("UpdateBookingStatusWithVersion", ctx, int64(5), int64(3), models.StatusRejected).Return(nil)
		repo.On("GetBooking", ctx, int64(5)).Return(nil, errors.New("db gone")).Once()

		got, err := newMockedService(repo, nil, nil, nil).DecideBooking(ctx, 5, 2, false)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, got.Status)
		assert.Equal(t, int64(4), got.Version)
	})
}

func TestGetBooking_Visibility(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	repo.On("GetBooking", ctx, int64(5)).Return(&models.Booking{ID: 5, BookerID: 1, OwnerID: 2}, nil)
	svc := newMockedService(repo, nil, nil, nil)

	for _, caller := range []int64{1, 2} {
		_, err := svc.GetBooking(ctx, 5, caller)
		assert.NoError(t, err)
	}
	_, err := svc.GetBooking(ctx, 5, 3)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestListBookings_Arguments(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	repo.On("GetUserByID", ctx, int64(1)).Return(&models.User{ID: 1}, nil)
	repo.On("GetUserByID", ctx, int64(9)).Return(nil, domain.NotFoundf("user 9 not found"))
	svc := newMockedService(repo, nil, nil, nil)

	cases := []struct {
		name   string
		state  string
		offset int
		limit  int
		reason string
	}{
		{"NegativeOffset", "ALL", -1, 10, "from must not be negative"},
		{"ZeroLimit", "ALL", 0, 0, "size must be positive"},
		{"UnknownState", "BOGUS", 0, 10, "Unknown state: BOGUS"},
		{"LowercaseState", "current", 0, 10, "Unknown state: current"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ListBookerBookings(ctx, 1, tc.state, tc.offset, tc.limit)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, tc.reason, domain.Reason(err))
		})
	}

	t.Run("UnknownSubject", func(t *testing.T) {
		_, err := svc.ListOwnerBookings(ctx, 9, "BOGUS", -1, 0)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("QueryShape", func(t *testing.T) {
		want := models.BookingQuery{OwnerID: 1, State: models.StateFuture, Now: testNow, Offset: 2, Limit: 3}
		repo.On("ListBookings", ctx, want).Return([]*models.Booking{}, nil).Once()
		_, err := svc.ListOwnerBookings(ctx, 1, "FUTURE", 2, 3)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("LimitAboveMaxPageIsPaged", func(t *testing.T) {
		page := func(n int) []*models.Booking {
			out := make([]*models.Booking, n)
			for i := range out {
				out[i] = &models.Booking{ID: int64(i + 1)}
			}
			return out
		}
		base := models.BookingQuery{BookerID: 1, State: models.StatePast, Now: testNow}
		first, second, third := base, base, base
		first.Offset, first.Limit = 5, 100
		second.Offset, second.Limit = 105, 100
		third.Offset, third.Limit = 205, 50
		repo.On("ListBookings", ctx, first).Return(page(100), nil).Once()
		repo.On("ListBookings", ctx, second).Return(page(100), nil).Once()
		repo.On("ListBookings", ctx, third).Return(page(20), nil).Once()

		got, err := svc.ListBookerBookings(ctx, 1, "PAST", 5, 250)
		require.NoError(t, err)
		assert.Len(t, got, 220)
		repo.AssertExpectations(t)
	})

	t.Run("EmptyStateMeansAll", func(t *testing.T) {
		want := models.BookingQuery{BookerID: 1, State: models.StateAll, Now: testNow, Offset: 0, Limit: 10}
		repo.On("ListBookings", ctx, want).Return([]*models.Booking{}, nil).Once()
		_, err := svc.ListBookerBookings(ctx, 1, "", 0, 10)
		require.NoError(t, err)
	})
}
