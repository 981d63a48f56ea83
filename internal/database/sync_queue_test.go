package database

import (
	"context"
	"testing"
	"time"

	"shareit/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	booking := &models.Booking{ID: 7, ItemID: 1, BookerID: 2, OwnerID: 3,
		Start: hour(1), End: hour(2), Status: models.StatusWaiting}
	task := &models.SyncTask{TaskType: models.TaskUpsertBooking, BookingID: booking.ID, Booking: booking}
	require.NoError(t, db.CreateSyncTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.SyncPending, task.Status)

	pending, err := db.GetPendingSyncTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Booking)
	assert.Equal(t, int64(7), pending[0].Booking.ID)
	assert.True(t, pending[0].Booking.Start.Equal(hour(1)))

	next := now.Add(time.Minute)
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncPending, "sheets down", &next))

	pending, err = db.GetPendingSyncTasks(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "task is not due yet")

	pending, err = db.GetPendingSyncTasks(ctx, next.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "sheets down", pending[0].LastError)

	require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncCompleted, "", nil))
	pending, err = db.GetPendingSyncTasks(ctx, next.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSyncQueue_StatusOnlyTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.SyncTask{TaskType: models.TaskUpdateStatus, BookingID: 3}
	require.NoError(t, db.CreateSyncTask(ctx, task))

	pending, err := db.GetPendingSyncTasks(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].Booking)
	assert.Equal(t, models.TaskUpdateStatus, pending[0].TaskType)
}
