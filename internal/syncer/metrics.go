package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels.
const (
	opWrite = "write"
	opFlush = "flush"
	opPull  = "pull"
)

// Result labels.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

// Metrics counts remote sync operations. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the sync collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_sync_operations_total",
				Help: "Remote progress operations by kind and result",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "progress_sync_duration_seconds",
				Help:    "Latency of remote progress operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration)
	}
	return m
}

func (m *Metrics) observe(op string, err error, start time.Time) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) skipped(op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, resultSkipped).Inc()
}
