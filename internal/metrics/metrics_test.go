package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint", "200")
		IncSyncTask("completed")
	})
}

func TestBookingCounters(t *testing.T) {
	before := testutil.ToFloat64(bookingsCreated)
	IncBookingCreated()
	assert.Equal(t, before+1, testutil.ToFloat64(bookingsCreated))

	before = testutil.ToFloat64(bookingDecisions.WithLabelValues("APPROVED"))
	IncDecision("APPROVED")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingDecisions.WithLabelValues("APPROVED")))

	before = testutil.ToFloat64(bookingRejections.WithLabelValues("validation_failed"))
	IncBookingRejected("validation_failed")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingRejections.WithLabelValues("validation_failed")))

	before = testutil.ToFloat64(conflictRetries)
	IncConflictRetry()
	assert.Equal(t, before+1, testutil.ToFloat64(conflictRetries))
}
