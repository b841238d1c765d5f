// Package orchestrator implements inferenceOptimize (§4.14): the single
// entry point that threads one conversation through windowing,
// classification, routing, and cache annotation, and never panics or
// returns an error for anything short of malformed input — every internal
// stage has a total fallback, so the worst outcome of a bug in this
// package is an unoptimized passthrough, not a 500.
package orchestrator

import (
	"log/slog"
	"strings"
	"time"

	"github.com/evansantos/slimclaw/internal/caching"
	"github.com/evansantos/slimclaw/internal/classifier"
	"github.com/evansantos/slimclaw/internal/events"
	"github.com/evansantos/slimclaw/internal/message"
	"github.com/evansantos/slimclaw/internal/metrics"
	"github.com/evansantos/slimclaw/internal/pricing"
	"github.com/evansantos/slimclaw/internal/routing"
	"github.com/evansantos/slimclaw/internal/tokencount"
	"github.com/evansantos/slimclaw/internal/windowing"
)

// virtualModelPrefix names the provider namespace this system owns in the
// model catalogue (§6 "Virtual model catalogue"): provider == "slimclaw"
// marks an ID virtual.
const virtualModelPrefix = "slimclaw/"

// IsVirtualModel reports whether modelID is owned by this system's virtual
// catalogue, e.g. "slimclaw/auto". The sidecar rejects any other model
// with HTTP 400 before ever calling Optimize.
func IsVirtualModel(modelID string) bool {
	return strings.HasPrefix(modelID, virtualModelPrefix)
}

// Mode names the global operating mode a Config is built with.
type Mode string

const (
	ModeShadow   Mode = "shadow"
	ModeActive   Mode = "active"
	ModeDisabled Mode = "disabled"
)

// Config is the fully-defaulted, immutable configuration record the
// orchestrator consults on every request (§6 "Configuration record"). It
// is built once at startup by internal/app and swapped atomically on
// SIGHUP; no code path downstream of this package applies its own
// defaults.
type Config struct {
	Enabled  bool
	Mode     Mode
	Windowing windowing.Config
	Routing   routing.Config
	Caching   caching.Config
}

// DefaultConfig returns §6's stated configuration defaults.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Mode:    ModeShadow,
		Windowing: windowing.Config{
			Enabled:            true,
			MaxMessages:        10,
			MaxTokens:          4000,
			SummarizeThreshold: 8,
		},
		Routing: routing.Config{
			Enabled:       false,
			MinConfidence: 0.4,
			ReasoningBudget: 10_000,
		},
		Caching: caching.Config{
			Enabled:           true,
			InjectBreakpoints: true,
			MinContentLength:  1000,
		},
	}
}

// RequestContext carries the per-request facts Optimize needs beyond the
// message list itself: identity for budget/A-B scoping, an explicit model
// pin from a request header, and an escape hatch for hook-mode callers
// that want the raw passthrough (§4.14 step 1's "ctx.bypassOptimization").
type RequestContext struct {
	OriginalModel      string
	HeaderPin          string
	RunID              string
	BudgetScope        string
	AgentID            string
	SessionKey         string
	BypassOptimization bool
}

// Metrics is the per-request bookkeeping record §4.14 step 7 assembles.
type Metrics struct {
	OriginalTokens          int
	OptimizedTokens         int
	TokensSaved             int
	SavingsPercent          float64
	WindowingApplied        bool
	TrimmedMessages         int
	SummaryTokens           int
	SummarizationMethod     windowing.SummarizationMethod
	CacheBreakpointsInjected int
	ClassificationTier      string
	ClassificationConfidence float64
	ClassificationReason    string
	LatencyMs               float64
}

// Result is the output of Optimize.
type Result struct {
	Messages        []message.Message
	RoutingDecision *routing.Decision
	Metrics         Metrics

	// ForwardModel/ForwardProvider are what the sidecar should actually send
	// upstream. In shadow mode these stay pinned to the caller's original
	// model even when RoutingDecision recommends something else — the
	// glossary's "shadow mode ... does not change the outgoing request."
	// In active mode they follow RoutingDecision.
	ForwardModel    string
	ForwardProvider string
}

// Orchestrator owns the supporting services Optimize needs beyond the
// pure functions (classifier.Classify, windowing.Window, caching.Annotate
// take no dependencies and never fail; routing.Router owns the
// budget/A-B/pricing services routing alone needs).
type Orchestrator struct {
	router  *routing.Router
	pricing *pricing.Table
	metrics *metrics.Registry
	events  *events.Bus
	logger  *slog.Logger
}

// New wires an Orchestrator. Every dependency except router may be nil;
// metrics/events/logger are best-effort observers, not correctness-load-
// bearing.
func New(router *routing.Router, pricingTable *pricing.Table, metricsReg *metrics.Registry, eventBus *events.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{router: router, pricing: pricingTable, metrics: metricsReg, events: eventBus, logger: logger}
}

// Optimize implements §4.14's inferenceOptimize. It never panics and never
// returns an error; any internal failure degrades to the step-1
// passthrough with a warning log, per §7 "the pipeline must never raise to
// the caller."
func (o *Orchestrator) Optimize(msgs []message.Message, cfg Config, reqCtx RequestContext) (result Result) {
	start := time.Now()
	originalEstimate := tokencount.Estimate(msgs)
	passthrough := Result{
		Messages: message.Clone(msgs),
		Metrics: Metrics{
			OriginalTokens:  originalEstimate,
			OptimizedTokens: originalEstimate,
		},
		ForwardModel:    reqCtx.OriginalModel,
		ForwardProvider: routing.ResolveProvider(reqCtx.OriginalModel, cfg.Routing.TierProviders).Provider,
	}

	// Step 1: global bypass.
	if !cfg.Enabled || cfg.Mode == ModeDisabled || reqCtx.BypassOptimization {
		return passthrough
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("orchestrator: recovered panic, returning passthrough",
				slog.Any("panic", r), slog.String("request_id", reqCtx.RunID))
			result = passthrough
		}
	}()

	// Step 2: original token estimate.
	originalTokens := tokencount.Estimate(msgs)
	current := message.Clone(msgs)

	m := Metrics{
		OriginalTokens:      originalTokens,
		SummarizationMethod: windowing.SummarizationNone,
	}

	// Step 3: windowing.
	if cfg.Windowing.Enabled {
		wc := windowing.Window(current, cfg.Windowing)
		built := windowing.Build(wc)
		if wc.Meta.WindowedTokenEstimate < originalTokens || wc.Meta.TrimmedMessageCount > 0 {
			current = built
			m.WindowingApplied = true
			m.TrimmedMessages = wc.Meta.TrimmedMessageCount
			m.SummaryTokens = wc.Meta.SummaryTokenEstimate
			m.SummarizationMethod = wc.Meta.SummarizationMethod
		}
	}

	// Step 4: classification + routing.
	var decision *routing.Decision
	if cfg.Routing.Enabled {
		cls := classifier.Classify(current)
		m.ClassificationTier = cls.Tier.String()
		m.ClassificationConfidence = cls.Confidence
		m.ClassificationReason = cls.Reason

		routingCtx := routing.RequestContext{
			OriginalModel:        reqCtx.OriginalModel,
			HeaderPin:            reqCtx.HeaderPin,
			RunID:                reqCtx.RunID,
			BudgetScope:          reqCtx.BudgetScope,
			EstimatedInputTokens: tokencount.Estimate(current),
		}
		d := o.router.Route(cls, cfg.Routing, routingCtx)
		decision = &d

		if o.metrics != nil {
			o.metrics.RoutingDecisionsTotal.WithLabelValues(cls.Tier.String(), string(d.Reason)).Inc()
			if d.Reason == routing.ReasonBudgetExceeded {
				o.metrics.BudgetRefusalsTotal.WithLabelValues(reqCtx.BudgetScope).Inc()
			}
		}
		if o.events != nil {
			evt := events.Event{
				Type:          events.EventRoutingDecided,
				Timestamp:     time.Now(),
				OriginalModel: d.OriginalModel,
				TargetModel:   d.TargetModel,
				ProviderID:    d.Provider,
				Tier:          cls.Tier.String(),
				Reason:        string(d.Reason),
			}
			if d.Reason == routing.ReasonBudgetExceeded {
				evt.Type = events.EventBudgetRefused
				evt.BudgetScope = reqCtx.BudgetScope
			}
			if d.Reason == routing.ReasonABVariant {
				evt.Type = events.EventABAssigned
				evt.ExperimentID = d.ExperimentID
				evt.VariantID = d.VariantID
			}
			o.events.Publish(evt)
		}
	}

	// Step 5: cache annotation.
	if cfg.Caching.Enabled {
		cacheResult := caching.Annotate(current, cfg.Caching)
		current = cacheResult.Messages
		m.CacheBreakpointsInjected = cacheResult.Stats.BreakpointsInjected
		if o.metrics != nil && cacheResult.Stats.BreakpointsInjected > 0 {
			o.metrics.CacheBreakpointsTotal.Add(float64(cacheResult.Stats.BreakpointsInjected))
		}
	}

	// Step 6: savings computation.
	optimizedTokens := tokencount.Estimate(current)
	m.OptimizedTokens = optimizedTokens
	tokensSaved := originalTokens - optimizedTokens
	if tokensSaved < 0 {
		tokensSaved = 0
	}
	m.TokensSaved = tokensSaved

	windowingSavings := 0.0
	if originalTokens > 0 && m.WindowingApplied {
		windowingSavings = float64(tokensSaved) / float64(originalTokens)
	}
	routingSavings := 0.0
	if decision != nil && o.pricing != nil {
		routingSavings = o.pricing.CalculateRoutingSavings(decision.OriginalModel, decision.TargetModel, optimizedTokens, 0) / 100
	}
	combined := 1 - (1-windowingSavings)*(1-routingSavings)
	m.SavingsPercent = combined * 100

	if o.metrics != nil && tokensSaved > 0 {
		reason := "windowing"
		if decision != nil && decision.Reason == routing.ReasonRouted {
			reason = "windowing+routing"
		}
		o.metrics.TokensSavedTotal.WithLabelValues(reason).Add(float64(tokensSaved))
	}

	// Step 7: assemble and record.
	m.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	if o.metrics != nil {
		o.metrics.StageLatencyMs.WithLabelValues("optimize").Observe(m.LatencyMs)
	}

	forwardModel, forwardProvider := reqCtx.OriginalModel, passthrough.ForwardProvider
	if decision != nil && cfg.Mode == ModeActive {
		forwardModel, forwardProvider = decision.TargetModel, decision.Provider
	}

	return Result{
		Messages:        current,
		RoutingDecision: decision,
		Metrics:         m,
		ForwardModel:    forwardModel,
		ForwardProvider: forwardProvider,
	}
}
