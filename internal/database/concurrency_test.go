package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentBooking(t *testing.T) {
	db := setupFileDB(t, filepath.Join(t.TempDir(), "concurrency.db"))
	_, booker, item := seedOwnerAndItem(t, db)
	ctx := context.Background()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			// Every interval contains [10:00, 10:30).
			start := hour(10).Add(-time.Duration(i) * time.Minute)
			end := hour(10).Add(30*time.Minute + time.Duration(i)*time.Minute)
			results <- db.CreateBookingWithLock(ctx, newBooking(item, booker.ID, start, end))
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, domain.ErrIntervalReserved), errors.Is(err, domain.ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successCount, "exactly one overlapping booking may commit")

	bookings, err := db.ListBookings(ctx, models.BookingQuery{
		BookerID: booker.ID, State: models.StateAll, Now: base, Limit: 100,
	})
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}
