package models

import "time"

// Booking statuses. CANCELED is reserved for booker withdrawal and no
// operation transitions into it yet.
const (
	StatusWaiting  = "WAITING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
	StatusCanceled = "CANCELED"
)

type Booking struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	BookerID  int64     `json:"booker_id"`
	OwnerID   int64     `json:"owner_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Overlaps reports whether [b.Start, b.End) properly overlaps [start, end).
// Intervals sharing only an endpoint do not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// HoldsInterval reports whether the booking takes part in overlap checks.
func (b *Booking) HoldsInterval() bool {
	return HoldsInterval(b.Status)
}

func (b *Booking) IsDecided() bool {
	return b.Status != StatusWaiting
}

// HoldsInterval reports whether a booking in the given status blocks
// other bookings of the same item.
func HoldsInterval(status string) bool {
	switch status {
	case StatusWaiting, StatusApproved:
		return true
	default:
		return false
	}
}

// OverlapStatuses lists the statuses that block an interval.
func OverlapStatuses() []string {
	return []string{StatusWaiting, StatusApproved}
}

func IsValidStatus(status string) bool {
	switch status {
	case StatusWaiting, StatusApproved, StatusRejected, StatusCanceled:
		return true
	default:
		return false
	}
}
