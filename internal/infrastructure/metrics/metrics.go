package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recipe_acquisition"

// Metrics groups the pipeline collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry      *prometheus.Registry
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	drafts        *prometheus.CounterVec
	extractions   *prometheus.CounterVec
	candidates    *prometheus.CounterVec
	commits       *prometheus.CounterVec
	merges        *prometheus.CounterVec
	jobsInFlight  prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetch attempts by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of fetch operations including rate-limit waits.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"outcome"}),
		drafts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_transitions_total",
			Help:      "Draft state transitions by target status.",
		}, []string{"status"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extracted drafts by confidence level.",
		}, []string{"confidence"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingredient_candidates_total",
			Help:      "Resolved ingredient lines by initial status.",
		}, []string{"status"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Draft commit attempts by result.",
		}, []string{"result"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingredient_merges_total",
			Help:      "Ingredient merge attempts by result.",
		}, []string{"result"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scrape_jobs_in_flight",
			Help:      "Asynchronous scrape jobs currently running.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetches, m.fetchDuration, m.drafts, m.extractions, m.candidates, m.commits, m.merges, m.jobsInFlight,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveFetch(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) DraftTransition(status string) {
	if m == nil {
		return
	}
	m.drafts.WithLabelValues(status).Inc()
}

// Extracted counts one extraction, split by the low-confidence flag.
func (m *Metrics) Extracted(lowConfidence bool) {
	if m == nil {
		return
	}
	level := "ok"
	if lowConfidence {
		level = "low"
	}
	m.extractions.WithLabelValues(level).Inc()
}

func (m *Metrics) CandidateResolved(status string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(status).Inc()
}

func (m *Metrics) Commit(result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
}

func (m *Metrics) Merge(result string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result).Inc()
}

// JobStarted increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}
	m.jobsInFlight.Inc()
	return m.jobsInFlight.Dec
}
