// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the engine's Prometheus instruments.
type Collector struct {
	// Round metrics
	roundsTotal   *prometheus.CounterVec
	roundDuration *prometheus.HistogramVec
	turnsTotal    *prometheus.CounterVec

	// LLM metrics
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	// Memory metrics
	compressionPasses *prometheus.CounterVec

	// Persistence metrics
	checkpointWrites prometheus.Counter

	// Autopilot metrics
	retriesTotal prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a metrics collector. A nil registerer gets a
// private registry, which keeps repeated construction (tests) from
// colliding on the default one.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Round metrics
	c.roundsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of rounds driven, by result",
		},
		[]string{"result"},
	)

	c.roundDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Round duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"result"},
	)

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of agent turns executed",
		},
		[]string{"agent"},
	)

	// LLM metrics
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// Memory metrics
	c.compressionPasses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_passes_total",
			Help:      "Total number of memory compression passes, by tier",
		},
		[]string{"tier"},
	)

	// Persistence metrics
	c.checkpointWrites = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoints persisted",
		},
	)

	// Autopilot metrics
	c.retriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopilot_retries_total",
			Help:      "Total number of autopilot retries after transient failures",
		},
	)

	return c
}

// ObserveRound records a finished round and its wall time.
func (c *Collector) ObserveRound(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.roundsTotal.WithLabelValues(result).Inc()
	c.roundDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveTurn records one agent turn.
func (c *Collector) ObserveTurn(agent string) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(agent).Inc()
}

// ObserveLLMRequest records one LLM invocation.
func (c *Collector) ObserveLLMRequest(provider, model, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// ObserveCompression records one compression pass.
func (c *Collector) ObserveCompression(tier string) {
	if c == nil {
		return
	}
	c.compressionPasses.WithLabelValues(tier).Inc()
}

// ObserveCheckpoint records one checkpoint write.
func (c *Collector) ObserveCheckpoint() {
	if c == nil {
		return
	}
	c.checkpointWrites.Inc()
}

// ObserveRetry records one autopilot retry.
func (c *Collector) ObserveRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}
