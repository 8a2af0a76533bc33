package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "botcopy"

// Signal intake statuses
const (
	SignalAccepted  = "accepted"
	SignalDuplicate = "duplicate"
	SignalInvalid   = "invalid"
	SignalDropped   = "dropped"
)

// Fan-out outcomes
const (
	FanOutCompleted = "completed"
	FanOutRejected  = "rejected"
	FanOutAborted   = "aborted"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	signals           *prometheus.CounterVec
	fanOuts           *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	queueDepth        prometheus.Gauge
	signalsPurged     prometheus.Counter
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Signals received by intake status.",
		}, []string{"status"}),
		fanOuts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanouts_total",
			Help:      "Signal fan-outs by outcome.",
		}, []string{"outcome"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Per-subscription executions by action and outcome.",
		}, []string{"action", "outcome"}),
		executionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Latency of a single subscription execution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Signals waiting for a dispatch worker.",
		}),
		signalsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_purged_total",
			Help:      "Signals removed by retention cleanup.",
		}),
	}
}

func (m *Metrics) SignalReceived(status string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(status).Inc()
}

func (m *Metrics) FanOut(outcome string) {
	if m == nil {
		return
	}
	m.fanOuts.WithLabelValues(outcome).Inc()
}

// Execution records one subscription execution
func (m *Metrics) Execution(action string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	m.executions.WithLabelValues(action, outcome).Inc()
	m.executionDuration.WithLabelValues(action).Observe(took.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SignalsPurged(n int64) {
	if m == nil {
		return
	}
	m.signalsPurged.Add(float64(n))
}
