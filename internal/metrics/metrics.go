// Package metrics exposes Prometheus metrics of index transactions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records index transactions. A nil *Metrics records nothing.
type Metrics struct {
	transactions     *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	lockWait         *prometheus.HistogramVec
	rollbacks        *prometheus.CounterVec
	rollbackFailures *prometheus.CounterVec
}

// New creates the metrics and registers them with registerer. It returns
// nil when registerer is nil.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, nil
	}

	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoindex",
			Name:      "transactions_total",
			Help:      "Index transactions by repository, operation and outcome",
		}, []string{"repo", "format", "op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repoindex",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of index transactions, extraction included",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"repo", "op"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repoindex",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for exclusive access to an index root",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"repo"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoindex",
			Name:      "rollbacks_total",
			Help:      "Transactions rolled back after a failure inside the exclusive section",
		}, []string{"repo"}),
		rollbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoindex",
			Name:      "rollback_failures_total",
			Help:      "Keys that could not be restored during a rollback",
		}, []string{"repo"}),
	}

	for _, c := range []prometheus.Collector{m.transactions, m.duration, m.lockWait, m.rollbacks, m.rollbackFailures} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveTransaction records a finished transaction.
func (m *Metrics) ObserveTransaction(repo, format, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(repo, format, op, outcome).Inc()
	m.duration.WithLabelValues(repo, op).Observe(elapsed.Seconds())
}

// ObserveLockWait records how long a transaction waited for its lock.
func (m *Metrics) ObserveLockWait(repo string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(repo).Observe(waited.Seconds())
}

// Rollback counts a rollback and the keys it failed to restore.
func (m *Metrics) Rollback(repo string, failures int) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(repo).Inc()
	if failures > 0 {
		m.rollbackFailures.WithLabelValues(repo).Add(float64(failures))
	}
}
