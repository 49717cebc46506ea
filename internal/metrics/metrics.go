package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "revise"

// Metrics holds the counters for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	plans          *prometheus.CounterVec
	oracleCalls    *prometheus.CounterVec
	oracleDuration *prometheus.HistogramVec
	changesApplied *prometheus.CounterVec
	applyErrors    prometheus.Counter
	undoEntries    *prometheus.CounterVec
	skipped        *prometheus.CounterVec
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Plans requested, by result",
		}, []string{"result"}),
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle calls, by capability and result",
		}, []string{"capability", "result"}),
		oracleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Duration of oracle calls",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"capability"}),
		changesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "File mutations written, by action",
		}, []string{"action"}),
		applyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_errors_total",
			Help:      "Files that failed to apply",
		}),
		undoEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undo_entries_total",
			Help:      "History entries processed by undo, by result",
		}, []string{"result"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_operations_total",
			Help:      "Planned operations that were not applied, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) Plan(result string) {
	if m == nil {
		return
	}
	m.plans.WithLabelValues(result).Inc()
}

func (m *Metrics) OracleCall(capability, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(capability, result).Inc()
	m.oracleDuration.WithLabelValues(capability).Observe(d.Seconds())
}

func (m *Metrics) Applied(action string) {
	if m == nil {
		return
	}
	m.changesApplied.WithLabelValues(action).Inc()
}

func (m *Metrics) ApplyError() {
	if m == nil {
		return
	}
	m.applyErrors.Inc()
}

func (m *Metrics) Undo(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.undoEntries.WithLabelValues(result).Add(float64(n))
}

// Skipped counts an operation dropped before apply. reason is a short
// label such as "unsafe_path", "synthesis" or "strict".
func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}
