package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SignalReceived(SignalAccepted)
	m.SignalReceived(SignalAccepted)
	m.SignalReceived(SignalDuplicate)
	m.FanOut(FanOutCompleted)
	m.Execution("BUY", nil, 10*time.Millisecond)
	m.Execution("BUY", assert.AnError, time.Millisecond)
	m.SetQueueDepth(3)
	m.SignalsPurged(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signals.WithLabelValues(SignalAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues(SignalDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fanOuts.WithLabelValues(FanOutCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("BUY", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("BUY", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.signalsPurged))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SignalReceived(SignalInvalid)
		m.FanOut(FanOutAborted)
		m.Execution("SELL", nil, time.Second)
		m.SetQueueDepth(1)
		m.SignalsPurged(1)
	})
}
