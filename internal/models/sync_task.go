package models

import "time"

// SyncTask is a queued mirror job for the external bookings sheet.
type SyncTask struct {
	ID          int64     `json:"id"`
	TaskType    string    `json:"task_type"`
	BookingID   int64     `json:"booking_id"`
	Booking     *Booking  `json:"booking,omitempty"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	NextRetryAt time.Time `json:"next_retry_at"`
}
