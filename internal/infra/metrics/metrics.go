// Package metrics provides Prometheus metrics for LMX (C6).
// Adapted directly from the teacher's internal/infra/metrics/metrics.go —
// same promauto package-level-var convention, same namespace-prefix idiom —
// retargeted to an "lmx" namespace and an inference-orchestration series
// set (requests, models, agent runs) in place of the teacher's
// credit/peer/gossip/health series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Requests ───────────────────────────────────────────────────────────────

// RequestsTotal counts all admitted inference requests.
var RequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "lmx",
	Name:      "requests_total",
	Help:      "Total admitted inference requests.",
})

// QueuedRequests tracks requests currently waiting on an admission gate.
var QueuedRequests = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "lmx",
	Name:      "queued_requests",
	Help:      "Number of requests currently waiting for admission.",
})

// RequestLatency tracks end-to-end request latency in seconds.
var RequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "lmx",
	Name:      "request_latency_p95_seconds",
	Help:      "End-to-end inference request latency in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Models ─────────────────────────────────────────────────────────────────

// LoadedModels tracks the number of models currently resident in memory.
var LoadedModels = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "lmx",
	Name:      "loaded_models",
	Help:      "Number of models currently loaded in memory.",
})

// ModelQueueWait tracks per-model admission queue wait time in seconds.
var ModelQueueWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "lmx",
	Name:      "model_queue_wait_seconds",
	Help:      "Time a request spent waiting for admission, per model.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"model_id", "backend"})

// ModelLoadDuration tracks how long a model load (including canary) took.
var ModelLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "lmx",
	Name:      "model_load_duration_seconds",
	Help:      "Time to load and canary-verify a model.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"model_id", "backend"})

// ModelTokensPerSecond tracks generation throughput per model.
var ModelTokensPerSecond = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "lmx",
	Name:      "model_tokens_per_second",
	Help:      "Observed generation throughput, per model.",
	Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
}, []string{"model_id", "backend"})

// ModelErrorRate tracks the rolling generation error rate per model.
var ModelErrorRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "lmx",
	Name:      "model_error_rate",
	Help:      "Rolling generation error rate, per model.",
}, []string{"model_id", "backend"})

// ModelEvictionsTotal counts LRU evictions, per model.
var ModelEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lmx",
	Name:      "model_evictions_total",
	Help:      "Total LRU evictions, per model.",
}, []string{"model_id"})

// ─── Agent runs ─────────────────────────────────────────────────────────────

// AgentRunsTotal counts agent runs by terminal status.
var AgentRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lmx",
	Name:      "agent_runs_total",
	Help:      "Total agent runs, by terminal status.",
}, []string{"status"})

// Collector adapts the package-level promauto metrics to the narrow
// domain.MetricsSink interface so call sites in lifecycle/admission/
// generator code don't import the metrics package's full surface area.
type Collector struct{}

// NewCollector returns a Collector bound to the package-level metric vars.
func NewCollector() *Collector { return &Collector{} }

func (c *Collector) ObserveModelQueueWait(modelID, backendTag string, seconds float64) {
	ModelQueueWait.WithLabelValues(modelID, backendTag).Observe(seconds)
}

func (c *Collector) ObserveRequestLatency(seconds float64) {
	RequestLatency.Observe(seconds)
}

func (c *Collector) ObserveModelLoadDuration(modelID, backendTag string, seconds float64) {
	ModelLoadDuration.WithLabelValues(modelID, backendTag).Observe(seconds)
}

func (c *Collector) ObserveTokensPerSecond(modelID, backendTag string, tps float64) {
	ModelTokensPerSecond.WithLabelValues(modelID, backendTag).Observe(tps)
}

func (c *Collector) IncRequests() { RequestsTotal.Inc() }

func (c *Collector) IncModelEviction(modelID string) {
	ModelEvictionsTotal.WithLabelValues(modelID).Inc()
}

func (c *Collector) IncAgentRun(status string) {
	AgentRunsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) SetLoadedModels(n int) { LoadedModels.Set(float64(n)) }

func (c *Collector) SetQueuedRequests(n int) { QueuedRequests.Set(float64(n)) }
