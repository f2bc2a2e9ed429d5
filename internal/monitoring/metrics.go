package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP 层指标 / HTTP layer metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "Total HTTP requests by method, path and status class.",
	}, []string{"method", "path", "status_class"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status_class"})

	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_http_in_flight",
		Help: "In-flight HTTP requests.",
	})
)

// 上游与 SSE 指标 / upstream and SSE metrics
var (
	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_upstream_request_duration_seconds",
		Help:    "Upstream chat-completions call latency.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"mode", "status_class"})

	SSELinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sse_lines_total",
		Help: "SSE lines relayed to clients.",
	}, []string{"path"})

	SSECloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sse_close_total",
		Help: "SSE stream terminations by reason.",
	}, []string{"path", "reason"})
)

// gateway_ctx 检索指标 / retrieval metrics
var (
	CtxCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ctx_cache_events_total",
		Help: "Context cache hits and misses by reason.",
	}, []string{"result", "reason"})

	AnchorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_anchor_call_duration_seconds",
		Help:    "Anchor RAG workflow call latency.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"phase", "status"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ctx_tool_calls_total",
		Help: "gateway_ctx tool invocations by outcome.",
	}, []string{"outcome"})
)

// 摘要引擎指标 / summarizer metrics
var (
	SummarizerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_summarizer_runs_total",
		Help: "Summarization runs by level and status.",
	}, []string{"level", "status"})
)

// 限流指标 / rate limit metrics
var (
	RateLimitKeysGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_ratelimit_keys",
		Help: "Per-key limiters currently cached.",
	})

	RateLimitSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_ratelimit_sweeps_total",
		Help: "TTL sweeps of the limiter cache.",
	})
)
