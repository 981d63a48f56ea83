package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2030, 1, 1, h, m, 0, 0, time.UTC)
}

func TestBooking_Overlaps(t *testing.T) {
	b := &Booking{Start: at(10, 0), End: at(11, 0)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", at(10, 30), at(10, 45), true},
		{"covering", at(9, 0), at(12, 0), true},
		{"left edge", at(9, 0), at(10, 1), true},
		{"back to back after", at(11, 0), at(12, 0), false},
		{"back to back before", at(9, 0), at(10, 0), false},
		{"disjoint", at(13, 0), at(14, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Overlaps(tt.start, tt.end))
		})
	}
}

func TestHoldsInterval(t *testing.T) {
	assert.True(t, HoldsInterval(StatusWaiting))
	assert.True(t, HoldsInterval(StatusApproved))
	assert.False(t, HoldsInterval(StatusRejected))
	assert.False(t, HoldsInterval(StatusCanceled))
	assert.ElementsMatch(t, []string{StatusWaiting, StatusApproved}, OverlapStatuses())
}

func TestParseBookingState(t *testing.T) {
	st, ok := ParseBookingState("")
	require.True(t, ok)
	assert.Equal(t, StateAll, st)

	for _, name := range []string{"ALL", "CURRENT", "PAST", "FUTURE", "WAITING", "REJECTED"} {
		st, ok := ParseBookingState(name)
		require.True(t, ok, name)
		assert.Equal(t, name, string(st))
	}

	_, ok = ParseBookingState("SOMETIME")
	assert.False(t, ok)
	_, ok = ParseBookingState("current")
	assert.False(t, ok)
}

func TestBookingState_Matches(t *testing.T) {
	now := at(12, 0)
	past := &Booking{Start: at(9, 0), End: at(10, 0), Status: StatusApproved}
	current := &Booking{Start: at(11, 0), End: at(13, 0), Status: StatusWaiting}
	endsNow := &Booking{Start: at(11, 0), End: now, Status: StatusRejected}
	startsNow := &Booking{Start: now, End: at(14, 0), Status: StatusWaiting}
	future := &Booking{Start: at(15, 0), End: at(16, 0), Status: StatusRejected}

	t.Run("Current", func(t *testing.T) {
		assert.False(t, StateCurrent.Matches(now, past))
		assert.True(t, StateCurrent.Matches(now, current))
		assert.True(t, StateCurrent.Matches(now, endsNow))
		assert.True(t, StateCurrent.Matches(now, startsNow))
		assert.False(t, StateCurrent.Matches(now, future))
	})

	t.Run("Past", func(t *testing.T) {
		assert.True(t, StatePast.Matches(now, past))
		assert.False(t, StatePast.Matches(now, endsNow))
		assert.False(t, StatePast.Matches(now, current))
	})

	t.Run("Future", func(t *testing.T) {
		assert.True(t, StateFuture.Matches(now, future))
		assert.False(t, StateFuture.Matches(now, startsNow))
		assert.False(t, StateFuture.Matches(now, past))
	})

	t.Run("Status", func(t *testing.T) {
		assert.True(t, StateWaiting.Matches(now, current))
		assert.False(t, StateWaiting.Matches(now, past))
		assert.True(t, StateRejected.Matches(now, future))
		assert.False(t, StateRejected.Matches(now, current))
	})

	t.Run("All", func(t *testing.T) {
		for _, b := range []*Booking{past, current, endsNow, startsNow, future} {
			assert.True(t, StateAll.Matches(now, b))
		}
		assert.False(t, BookingState("BOGUS").Matches(now, past))
	})
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2030-01-01T10:00:00")
	require.NoError(t, err)
	assert.Equal(t, at(10, 0), got)
	assert.Equal(t, "2030-01-01T10:00:00", FormatTime(got))

	got, err = ParseTime("2030-01-01T13:00:00+03:00")
	require.NoError(t, err)
	assert.Equal(t, at(10, 0), got)

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	in := time.Date(2030, 1, 1, 10, 0, 0, 999, time.FixedZone("X", 3600))
	assert.Equal(t, time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC), Truncate(in))
}
