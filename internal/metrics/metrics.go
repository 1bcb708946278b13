// Package metrics exposes pipeline counters in Prometheus format. Every
// recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corebrain"

// Web lookup outcomes
const (
	WebSkipped = "skipped"
	WebPages   = "pages"
	WebWiki    = "wiki"
	WebEmpty   = "empty"
)

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	chatRequests  *prometheus.CounterVec
	chatDuration  prometheus.Histogram
	webLookups    *prometheus.CounterVec
	factsLearned  *prometheus.CounterVec
	learnRuns     prometheus.Counter
	storageErrors prometheus.Counter
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by classified intent.",
		}, []string{"intent"}),
		chatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_duration_seconds",
			Help:      "Time to produce a chat reply.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		webLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_lookups_total",
			Help:      "Information requests by web lookup outcome.",
		}, []string{"outcome"}),
		factsLearned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_learned_total",
			Help:      "Facts written to memory by source tag.",
		}, []string{"source"}),
		learnRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learn_runs_total",
			Help:      "Completed learning loop runs.",
		}),
		storageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Suppressed storage write failures.",
		}),
	}

	m.registry.MustRegister(
		m.chatRequests,
		m.chatDuration,
		m.webLookups,
		m.factsLearned,
		m.learnRuns,
		m.storageErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveChat records one answered chat request.
func (m *Metrics) ObserveChat(intent string, d time.Duration) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(intent).Inc()
	m.chatDuration.Observe(d.Seconds())
}

// WebLookup records how an information request used the web.
func (m *Metrics) WebLookup(outcome string) {
	if m == nil {
		return
	}
	m.webLookups.WithLabelValues(outcome).Inc()
}

// FactLearned records a fact written with the given source tag.
func (m *Metrics) FactLearned(source string) {
	if m == nil {
		return
	}
	m.factsLearned.WithLabelValues(source).Inc()
}

// LearnRun records a finished learning loop run.
func (m *Metrics) LearnRun() {
	if m == nil {
		return
	}
	m.learnRuns.Inc()
}

// StorageError records a storage failure that was logged and suppressed.
func (m *Metrics) StorageError() {
	if m == nil {
		return
	}
	m.storageErrors.Inc()
}
