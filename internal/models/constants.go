package models

import "time"

// TimeLayout is the wire layout for booking instants. Instants carry no
// zone and are interpreted in UTC.
const TimeLayout = "2006-01-02T15:04:05"

const (
	DefaultPageSize = 10
	MaxPageSize     = 500

	// WorkerQueueSize is the in-memory sync queue capacity.
	WorkerQueueSize = 1000

	// DefaultLockTTL bounds how long an item lock may be held.
	DefaultLockTTL = 5 * time.Second
)

// Sync task types.
const (
	TaskUpsertBooking = "upsert_booking"
	TaskUpdateStatus  = "update_status"
)

// Sync task statuses.
const (
	SyncPending    = "pending"
	SyncProcessing = "processing"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// Truncate normalises an instant to UTC with second precision.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// FormatTime renders an instant in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses TimeLayout, falling back to RFC3339.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err == nil {
		return t, nil
	}
	t, rfcErr := time.Parse(time.RFC3339, s)
	if rfcErr != nil {
		return time.Time{}, err
	}
	return Truncate(t), nil
}
