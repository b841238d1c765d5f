package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the pipeline emits to,
// grounded on the teacher's Registry shape (one struct of named
// CounterVec/HistogramVec/Gauge fields, registered once in New).
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal         *prometheus.CounterVec
	StageLatencyMs        *prometheus.HistogramVec
	TokensSavedTotal      *prometheus.CounterVec
	RoutingDecisionsTotal *prometheus.CounterVec
	BudgetRefusalsTotal   *prometheus.CounterVec
	CacheBreakpointsTotal prometheus.Counter
	RateLimitedTotal      prometheus.Counter
	TemporalUp            prometheus.Gauge
	TemporalCircuitState  prometheus.Gauge // 0=closed, 1=open, 2=half-open
	TemporalFallbackTotal prometheus.Counter
}

// New constructs and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slimclaw_requests_total",
			Help: "Total requests processed by the optimization pipeline",
		}, []string{"mode", "status"}),
		StageLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slimclaw_stage_latency_ms",
			Help:    "Per-stage processing latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"stage"}),
		TokensSavedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slimclaw_tokens_saved_total",
			Help: "Tokens saved by windowing and routing, cumulative",
		}, []string{"reason"}),
		RoutingDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slimclaw_routing_decisions_total",
			Help: "Routing decisions by resolved tier and reason",
		}, []string{"tier", "reason"}),
		BudgetRefusalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slimclaw_budget_refusals_total",
			Help: "Requests refused or downgraded by the budget tracker, by scope",
		}, []string{"scope"}),
		CacheBreakpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slimclaw_cache_breakpoints_total",
			Help: "Total cache breakpoints injected by the annotator",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slimclaw_rate_limited_total",
			Help: "Total requests rejected by the sidecar's rate limiter",
		}),
		TemporalUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slimclaw_temporal_up",
			Help: "Whether the async outcome-recording workflow engine is connected",
		}),
		TemporalCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slimclaw_temporal_circuit_state",
			Help: "Async recording circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		TemporalFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slimclaw_temporal_fallback_total",
			Help: "Total outcome records that fell back to synchronous recording",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.StageLatencyMs, m.TokensSavedTotal, m.RoutingDecisionsTotal,
		m.BudgetRefusalsTotal, m.CacheBreakpointsTotal, m.RateLimitedTotal,
		m.TemporalUp, m.TemporalCircuitState, m.TemporalFallbackTotal,
	)
	return m
}

// Handler exposes the registry for /metrics scraping.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
