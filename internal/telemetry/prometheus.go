// Package telemetry exports engine diagnostics as Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/easeaico/second-self/internal/generation"
	"github.com/easeaico/second-self/internal/types"
)

const namespace = "second_self"

// Metrics implements the retrieval, embedding and generation hooks on one
// registry.
type Metrics struct {
	registry *prometheus.Registry

	strategyFailures   *prometheus.CounterVec
	degradedQueries    *prometheus.CounterVec
	retrievalLatency   prometheus.Histogram
	retrievalResults   prometheus.Histogram
	embeddingFallbacks *prometheus.CounterVec
	generations        *prometheus.CounterVec
	generationLatency  *prometheus.HistogramVec
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: strategy
		strategyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "strategy_failures_total",
			Help:      "Retrieval strategies that failed and were dropped",
		}, []string{"strategy"}),
		// Labels: failed (number of failed strategies)
		degradedQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "degraded_queries_total",
			Help:      "Queries answered from keyword candidates only",
		}, []string{"failed"}),
		retrievalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "latency_seconds",
			Help:      "End-to-end retrieval latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		retrievalResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Ranked results returned per query",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		}),
		// Labels: backend, reason
		embeddingFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "fallback_vectors_total",
			Help:      "Texts embedded with the deterministic fallback",
		}, []string{"backend", "reason"}),
		// Labels: mode (batch, stream), state (COMPLETED, FAILED)
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Finished generation requests by terminal state",
		}, []string{"mode", "state"}),
		generationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Generation wall time including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"mode"}),
	}
}

func (m *Metrics) StrategyFailed(_ string, strategy types.StrategyName, _ error) {
	m.strategyFailures.WithLabelValues(string(strategy)).Inc()
}

func (m *Metrics) QueryDegraded(_ string, failed []types.StrategyName) {
	m.degradedQueries.WithLabelValues(strconv.Itoa(len(failed))).Inc()
}

func (m *Metrics) RetrievalCompleted(_ string, results int, elapsed time.Duration) {
	m.retrievalLatency.Observe(elapsed.Seconds())
	m.retrievalResults.Observe(float64(results))
}

func (m *Metrics) EmbeddingFallback(backend, reason string, count int) {
	m.embeddingFallbacks.WithLabelValues(backend, reason).Add(float64(count))
}

func (m *Metrics) GenerationFinished(mode string, state generation.State, elapsed time.Duration) {
	m.generations.WithLabelValues(mode, string(state)).Inc()
	m.generationLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
