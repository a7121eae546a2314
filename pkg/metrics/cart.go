package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics tracks cart engine outcomes, owner lock contention and worker actions.
type CartMetrics struct {
	operations   *prometheus.CounterVec
	lockWait     prometheus.Histogram
	lockTimeouts prometheus.Counter
	reconciled   *prometheus.CounterVec
}

// NewCartMetrics registers the cart metrics on reg. A nil registerer yields a no-op recorder.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "operations_total",
		Help:      "Cart engine operations by outcome (success or failure code).",
	}, []string{"operation", "outcome"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "owner_lock_wait_seconds",
		Help:      "Time spent waiting for a per-owner cart lock.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
	})
	lockTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "owner_lock_timeouts_total",
		Help:      "Owner lock acquisitions that gave up.",
	})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "carts_reconciled_total",
		Help:      "Carts touched by reconciliation, by action.",
	}, []string{"action"})
	reg.MustRegister(operations, lockWait, lockTimeouts, reconciled)
	return &CartMetrics{
		operations:   operations,
		lockWait:     lockWait,
		lockTimeouts: lockTimeouts,
		reconciled:   reconciled,
	}
}

func (m *CartMetrics) ObserveOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *CartMetrics) ObserveLockWait(d time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *CartMetrics) IncLockTimeout() {
	if m == nil || m.lockTimeouts == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// AddReconciled counts n carts handled by a worker action such as migrated or notified.
func (m *CartMetrics) AddReconciled(action string, n int) {
	if m == nil || m.reconciled == nil || n <= 0 {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(action)).Add(float64(n))
}
