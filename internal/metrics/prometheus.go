package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "product_agent_turn_duration_seconds",
			Help:    "Chat turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_turns_total",
			Help: "Chat turns by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	ScopeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_scope_rejections_total",
			Help: "Turns short-circuited by the scope guard",
		},
		[]string{"mode"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "product_agent_retrieved_chunks",
			Help:    "Number of manual chunks retrieved per turn",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	DegradedLayers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_degraded_layers_total",
			Help: "Context layers dropped because a collaborator failed",
		},
		[]string{"layer"},
	)

	VisionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "product_agent_vision_confidence",
			Help:    "Confidence reported by image analysis",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "product_agent_generation_duration_seconds",
			Help:    "Generation backend latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	StoreFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_store_fallbacks_total",
			Help: "Conversation store operations served by the in-memory fallback",
		},
		[]string{"op"},
	)

	ChunksIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_agent_chunks_indexed_total",
			Help: "Manual chunks written to the vector index",
		},
		[]string{"section"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "product_agent_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TurnDuration,
			TurnsTotal,
			ScopeRejections,
			RetrievedChunks,
			DegradedLayers,
			VisionConfidence,
			GenerationDuration,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			StoreFallbacks,
			ChunksIndexed,
			BreakerState,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
