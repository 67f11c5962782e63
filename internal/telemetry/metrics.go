// Package telemetry defines the Prometheus collectors for xref and keeps a
// short in-memory history of queries that found nothing.
// All telemetry is local; nothing is reported externally.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors on a private registry.
// Every method is safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	UnitsLoaded     prometheus.Counter
	UnitsLoadFailed prometheus.Counter
	UnitsDerived    prometheus.Counter
	PipelineRuns    *prometheus.CounterVec
	Queries         *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	IndexDerived    prometheus.Gauge

	zeroResults *CircularBuffer[ZeroResult]
}

// ZeroResult records a query that returned no usages.
type ZeroResult struct {
	Target string    `json:"target"`
	Path   string    `json:"path"`
	At     time.Time `json:"at"`
}

// zeroResultHistory is how many zero-result queries are remembered.
const zeroResultHistory = 50

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UnitsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xref_units_loaded_total",
			Help: "Units decoded successfully by the batch loader.",
		}),
		UnitsLoadFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xref_units_load_failed_total",
			Help: "Units the batch loader skipped after a decode failure.",
		}),
		UnitsDerived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xref_units_derived_total",
			Help: "Units derived into the usage index.",
		}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xref_pipeline_runs_total",
			Help: "Finished pipeline runs by terminal status.",
		}, []string{"status"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xref_queries_total",
			Help: "Usage queries by resolution path (absent, direct, empty_workset, scheduled).",
		}, []string{"path"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "xref_query_duration_seconds",
			Help:    "Time from query submission to published results.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		IndexDerived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xref_index_units_derived",
			Help: "Units currently present in the usage index.",
		}),
		zeroResults: NewCircularBuffer[ZeroResult](zeroResultHistory),
	}

	m.registry.MustRegister(
		m.UnitsLoaded,
		m.UnitsLoadFailed,
		m.UnitsDerived,
		m.PipelineRuns,
		m.Queries,
		m.QueryDuration,
		m.IndexDerived,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// UnitLoaded counts a successful decode.
func (m *Metrics) UnitLoaded() {
	if m == nil {
		return
	}
	m.UnitsLoaded.Inc()
}

// UnitLoadFailed counts an isolated decode failure.
func (m *Metrics) UnitLoadFailed() {
	if m == nil {
		return
	}
	m.UnitsLoadFailed.Inc()
}

// UnitDerived counts one derived unit and sets the index gauge to total.
func (m *Metrics) UnitDerived(total int) {
	if m == nil {
		return
	}
	m.UnitsDerived.Inc()
	m.IndexDerived.Set(float64(total))
}

// RunFinished counts a pipeline run by status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(status).Inc()
}

// QueryAnswered records a finished query.
func (m *Metrics) QueryAnswered(target, path string, results int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(path).Inc()
	m.QueryDuration.Observe(elapsed.Seconds())
	if results == 0 {
		m.zeroResults.Add(ZeroResult{Target: target, Path: path, At: time.Now()})
	}
}

// RecentZeroResults returns zero-result queries, oldest first.
func (m *Metrics) RecentZeroResults() []ZeroResult {
	if m == nil {
		return []ZeroResult{}
	}
	return m.zeroResults.Items()
}
