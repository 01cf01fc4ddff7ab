package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCapture("verify", "succeeded")
	m.ObserveCapture("verify", "succeeded")
	m.ObserveGuard("protected", "redirect")
	m.ObserveMalformed(2)
	m.ObserveMalformed(0)
	m.ObserveDispatch("enroll", 250*time.Millisecond)
	m.ObserveScheduleCache(true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.CaptureOutcomes.WithLabelValues("verify", "succeeded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GuardDecisions.WithLabelValues("protected", "redirect")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.MalformedSlots), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ScheduleCacheHits.WithLabelValues("hit")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCapture("verify", "failed")
		m.ObserveDispatch("verify", time.Second)
		m.ObserveGuard("public", "render")
		m.ObserveMalformed(1)
		m.ObserveScheduleCache(false)
	})
}
