package database

import (
	"fmt"
	"time"

	"shareit/internal/models"
)

// statePredicate renders models.BookingState.Matches as a SQL condition over
// the bookings table. Both must select the same rows.
func statePredicate(state models.BookingState, now time.Time) (string, []any, error) {
	ts := now.Unix()
	switch state {
	case models.StateAll, "":
		return "1 = 1", nil, nil
	case models.StateCurrent:
		return "start_at <= ? AND end_at >= ?", []any{ts, ts}, nil
	case models.StatePast:
		return "end_at < ?", []any{ts}, nil
	case models.StateFuture:
		return "start_at > ?", []any{ts}, nil
	case models.StateWaiting:
		return "status = ?", []any{models.StatusWaiting}, nil
	case models.StateRejected:
		return "status = ?", []any{models.StatusRejected}, nil
	default:
		return "", nil, fmt.Errorf("unsupported booking state %q", state)
	}
}
