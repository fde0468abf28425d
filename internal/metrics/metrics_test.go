package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector("test")

	c.Booking("admitted")
	c.Booking("admitted")
	c.Booking("overlap")
	c.Notification("failed")
	c.QueueDepth(3)
	c.ObserveRequest("POST", "/appointments", 201, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.BookingsTotal.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BookingsTotal.WithLabelValues("overlap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NotificationsTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.NotifyQueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RequestsTotal.WithLabelValues("POST", "/appointments", "201")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Booking("admitted")
		c.Notification("sent")
		c.QueueDepth(1)
		c.ObserveRequest("GET", "/health/live", 200, time.Millisecond)
	})
}
