package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
	"shareit/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx      context.Context
	svc      *BookingService
	comments *CommentService
	catalog  *CatalogService
	now      time.Time
	mu       sync.Mutex
	owner    *models.User
	booker   *models.User
	other    *models.User
	item     *models.Item
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func newFixture(t *testing.T, locker domain.ItemLocker) *fixture {
	t.Helper()
	repo := newSQLiteRepo(t)
	logger := zerolog.New(io.Discard)
	f := &fixture{ctx: context.Background(), now: testNow}
	f.svc = NewBookingService(repo, locker, nil, nil, testBookingConfig(), &logger).WithClock(f.clock)
	f.catalog = NewCatalogService(repo, &logger)
	f.comments = NewCommentService(repo, f.svc, &logger)

	var err error
	f.owner, err = f.catalog.CreateUser(f.ctx, &models.User{Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	f.booker, err = f.catalog.CreateUser(f.ctx, &models.User{Name: "B", Email: "b@example.com"})
	require.NoError(t, err)
	f.other, err = f.catalog.CreateUser(f.ctx, &models.User{Name: "C", Email: "c@example.com"})
	require.NoError(t, err)
	f.item, err = f.catalog.CreateItem(f.ctx, f.owner.ID, &models.Item{Name: "drill", Description: "cordless", Available: true})
	require.NoError(t, err)
	return f
}

// clockAt returns testNow's date at hh:mm.
func clockAt(hh, mm int) time.Time {
	return time.Date(testNow.Year(), testNow.Month(), testNow.Day(), hh, mm, 0, 0, time.UTC)
}

func TestScenario_BackToBack(t *testing.T) {
	f := newFixture(t, nil)

	b1, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, b1.Status)

	_, err = f.svc.CreateBooking(f.ctx, f.other.ID, f.item.ID, clockAt(10, 30), clockAt(10, 45))
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "interval already reserved", domain.Reason(err))

	b2, err := f.svc.CreateBooking(f.ctx, f.other.ID, f.item.ID, clockAt(11, 0), clockAt(12, 0))
	require.NoError(t, err)
	assert.NotEqual(t, b1.ID, b2.ID)
}

func TestScenario_ApproveThenDecideAgain(t *testing.T) {
	f := newFixture(t, nil)

	b, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	require.NoError(t, err)

	_, err = f.svc.DecideBooking(f.ctx, b.ID, f.booker.ID, true)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	approved, err := f.svc.DecideBooking(f.ctx, b.ID, f.owner.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)

	for _, approve := range []bool{true, false} {
		_, err = f.svc.DecideBooking(f.ctx, b.ID, f.owner.ID, approve)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, "already decided", domain.Reason(err))
	}

	got, err := f.svc.GetBooking(f.ctx, b.ID, f.booker.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestScenario_RejectedFreesInterval(t *testing.T) {
	f := newFixture(t, nil)

	b, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	require.NoError(t, err)
	_, err = f.svc.DecideBooking(f.ctx, b.ID, f.owner.ID, false)
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(f.ctx, f.other.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	assert.NoError(t, err)
}

func TestScenario_CompletedRentalGate(t *testing.T) {
	f := newFixture(t, nil)

	b, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	require.NoError(t, err)
	_, err = f.svc.DecideBooking(f.ctx, b.ID, f.owner.ID, true)
	require.NoError(t, err)

	f.setNow(clockAt(11, 0))
	done, err := f.svc.HasCompletedRental(f.ctx, f.booker.ID, f.item.ID)
	require.NoError(t, err)
	assert.False(t, done, "end == now is not completed")

	_, err = f.comments.AddComment(f.ctx, f.booker.ID, f.item.ID, "great drill")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "user has not completed a rental of this item", domain.Reason(err))

	f.setNow(clockAt(11, 0).Add(time.Second))
	done, err = f.svc.HasCompletedRental(f.ctx, f.booker.ID, f.item.ID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = f.svc.HasCompletedRental(f.ctx, f.other.ID, f.item.ID)
	require.NoError(t, err)
	assert.False(t, done)

	f.comments.now = f.clock
	c, err := f.comments.AddComment(f.ctx, f.booker.ID, f.item.ID, "  great drill  ")
	require.NoError(t, err)
	assert.Equal(t, "great drill", c.Text)

	list, err := f.comments.ListComments(f.ctx, f.item.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, f.booker.ID, list[0].AuthorID)
}

func TestScenario_Pagination(t *testing.T) {
	f := newFixture(t, nil)

	ids := make([]int64, 5)
	for i := 0; i < 5; i++ {
		b, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, at(24*(i+1)), at(24*(i+1)+1))
		require.NoError(t, err)
		ids[i] = b.ID
	}

	page, err := f.svc.ListBookerBookings(f.ctx, f.booker.ID, "ALL", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []int64{ids[2], ids[1]}, []int64{page[0].ID, page[1].ID})

	page, err = f.svc.ListBookerBookings(f.ctx, f.booker.ID, "ALL", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	owned, err := f.svc.ListOwnerBookings(f.ctx, f.owner.ID, "ALL", 0, 10)
	require.NoError(t, err)
	assert.Len(t, owned, 5)

	none, err := f.svc.ListOwnerBookings(f.ctx, f.booker.ID, "ALL", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScenario_TemporalStates(t *testing.T) {
	f := newFixture(t, nil)

	// past: 10-11, current: 12-14, future: 15-16 once now is 13:00.
	past, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	require.NoError(t, err)
	current, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(12, 0), clockAt(14, 0))
	require.NoError(t, err)
	future, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(15, 0), clockAt(16, 0))
	require.NoError(t, err)
	_, err = f.svc.DecideBooking(f.ctx, future.ID, f.owner.ID, false)
	require.NoError(t, err)

	f.setNow(clockAt(13, 0))
	expect := map[string][]int64{
		"ALL":      {future.ID, current.ID, past.ID},
		"CURRENT":  {current.ID},
		"PAST":     {past.ID},
		"FUTURE":   {future.ID},
		"WAITING":  {current.ID, past.ID},
		"REJECTED": {future.ID},
	}
	for state, want := range expect {
		t.Run(state, func(t *testing.T) {
			got, err := f.svc.ListBookerBookings(f.ctx, f.booker.ID, state, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, want, bookingIDs(got))

			got, err = f.svc.ListOwnerBookings(f.ctx, f.owner.ID, state, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, want, bookingIDs(got))
		})
	}

	// Boundaries: start == now is CURRENT, end == now is CURRENT.
	f.setNow(clockAt(12, 0))
	got, err := f.svc.ListBookerBookings(f.ctx, f.booker.ID, "CURRENT", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{current.ID}, bookingIDs(got))
	f.setNow(clockAt(14, 0))
	got, err = f.svc.ListBookerBookings(f.ctx, f.booker.ID, "CURRENT", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{current.ID}, bookingIDs(got))
}

func TestScenario_ConcurrentCreates(t *testing.T) {
	lockers := map[string]domain.ItemLocker{
		"TransactionOnly": nil,
		"MemoryLock":      repository.NewMemoryLocker(5 * time.Second),
	}
	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker)
			bookers := make([]int64, 10)
			for i := range bookers {
				u, err := f.catalog.CreateUser(f.ctx, &models.User{Name: "u", Email: fmt.Sprintf("u%d@example.com", i)})
				require.NoError(t, err)
				bookers[i] = u.ID
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				failures  []error
			)
			for i, booker := range bookers {
				wg.Add(1)
				go func(i int, booker int64) {
					defer wg.Done()
					start := clockAt(10, i)
					_, err := f.svc.CreateBooking(f.ctx, booker, f.item.ID, start, start.Add(time.Hour))
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
					} else {
						failures = append(failures, err)
					}
				}(i, booker)
			}
			wg.Wait()

			assert.Equal(t, 1, successes)
			for _, err := range failures {
				assert.ErrorIs(t, err, domain.ErrValidation)
			}

			all, err := f.svc.ListOwnerBookings(f.ctx, f.owner.ID, "ALL", 0, 100)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestScenario_ConcurrentDisjointCreates(t *testing.T) {
	lockers := map[string]domain.ItemLocker{
		"TransactionOnly": nil,
		"MemoryLock":      repository.NewMemoryLocker(5 * time.Second),
	}
	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker)

			var wg sync.WaitGroup
			errs := make([]error, 8)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					start := at(24 * (i + 1))
					_, errs[i] = f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, start, start.Add(time.Hour))
				}(i)
			}
			wg.Wait()

			for _, err := range errs {
				assert.NoError(t, err)
			}
			all, err := f.svc.ListOwnerBookings(f.ctx, f.owner.ID, "ALL", 0, 100)
			require.NoError(t, err)
			assert.Len(t, all, len(errs))
		})
	}
}

func TestScenario_BusyLockIsNotAnOverlap(t *testing.T) {
	locker := repository.NewMemoryLocker(20 * time.Millisecond)
	f := newFixture(t, locker)

	token, err := locker.Acquire(f.ctx, f.item.ID, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	require.ErrorIs(t, err, domain.ErrLockBusy)
	assert.Equal(t, "internal", domain.Kind(err))
	assert.NotErrorIs(t, err, domain.ErrIntervalReserved)

	require.NoError(t, locker.Release(f.ctx, f.item.ID, token))
	_, err = f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	assert.NoError(t, err)
}

func TestScenario_ConcurrentDecisions(t *testing.T) {
	f := newFixture(t, nil)
	b, err := f.svc.CreateBooking(f.ctx, f.booker.ID, f.item.ID, clockAt(10, 0), clockAt(11, 0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.DecideBooking(f.ctx, b.ID, f.owner.ID, i%2 == 0)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	}
	assert.Equal(t, 1, ok)
}

func bookingIDs(bs []*models.Booking) []int64 {
	ids := make([]int64, 0, len(bs))
	for _, b := range bs {
		ids = append(ids, b.ID)
	}
	return ids
}
