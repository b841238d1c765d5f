package routing

import (
	"log/slog"
	"math"
	"sort"

	"github.com/evansantos/slimclaw/internal/abtest"
	"github.com/evansantos/slimclaw/internal/budget"
	"github.com/evansantos/slimclaw/internal/classifier"
	"github.com/evansantos/slimclaw/internal/latency"
	"github.com/evansantos/slimclaw/internal/pricing"
	"github.com/evansantos/slimclaw/internal/tier"
)

// Router implements route() (§4.6): the nine-clause precedence chain that
// turns a classification into a RoutingDecision. Grounded on the teacher's
// internal/router/engine.go Engine — same constructor-injected-services
// shape and never-fail "always produce a decision" contract — but the
// scoring-across-many-concrete-models algorithm is replaced entirely by
// the tier-precedence chain this package's Config names.
type Router struct {
	budget  *budget.Tracker
	ab      *abtest.Manager
	pricing *pricing.Table
	latency *latency.Tracker
	logger  *slog.Logger
}

// NewRouter wires the Router's supporting services. latencyTracker may be
// nil; a tier configured with FastVirtualModel then falls back to the
// plain "undefined tier" outcome, same as an empty FastCandidates pool.
func NewRouter(budgetTracker *budget.Tracker, abManager *abtest.Manager, pricingTable *pricing.Table, latencyTracker *latency.Tracker, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{budget: budgetTracker, ab: abManager, pricing: pricingTable, latency: latencyTracker, logger: logger}
}

// Route implements §4.6. It never fails: every branch returns a Decision.
func (r *Router) Route(cls classifier.Result, cfg Config, ctx RequestContext) Decision {
	original := ctx.originalModelOrUnknown()
	confidence := roundTo2(cls.Confidence)

	// Shadow recommendation is computed unconditionally so shadow-mode
	// logs stay comparable to active-mode decisions (§4.6 "Shadow field").
	shadow := r.recommend(cls, cfg, ctx)

	decide := func(target, reason, experimentID, variantID string) Decision {
		d := Decision{
			OriginalModel: original,
			TargetModel:   target,
			Tier:          cls.Tier,
			Confidence:    confidence,
			Reason:        Reason(reason),
			Shadow:        shadow,
			ExperimentID:  experimentID,
			VariantID:     variantID,
		}
		provider, _, _ := resolveAndHeaders(target, cfg)
		d.Provider = provider
		d.Headers = headersFor(provider, cfg)
		if cls.Tier == tier.Reasoning {
			d.Thinking = &Thinking{Type: "enabled", BudgetTokens: cfg.ReasoningBudget}
		}
		return d
	}

	// 1. Disabled.
	if !cfg.Enabled || cfg.Tiers == nil {
		return decide(original, string(ReasonRoutingDisabled), "", "")
	}

	// 2. Pinning by header.
	if ctx.HeaderPin != "" {
		return decide(ctx.HeaderPin, string(ReasonPinned), "", "")
	}

	// 3. Pinning by config.
	if cfg.IsPinned(ctx.OriginalModel) {
		return decide(original, string(ReasonPinned), "", "")
	}

	// 4. Downgrade block.
	if originalTier, ok := cfg.InverseTierLookup(ctx.OriginalModel); ok {
		if !cfg.AllowDowngrade && cls.Tier.Less(originalTier) {
			return decide(original, string(ReasonPinned), "", "")
		}
	}

	// 5. Confidence gate.
	if cls.Confidence < cfg.MinConfidence {
		return decide(original, string(ReasonLowConfidence), "", "")
	}

	// 6. Tier lookup.
	tierModel, ok := cfg.Tiers[cls.Tier]
	if !ok || tierModel == "" {
		return decide(original, string(ReasonRoutingDisabled), "", "")
	}
	if tierModel == FastVirtualModel {
		picked, ok := r.pickFastest(cfg.FastCandidates[cls.Tier])
		if !ok {
			return decide(original, string(ReasonRoutingDisabled), "", "")
		}
		tierModel = picked
	}

	// 7. Budget check.
	target := tierModel
	if r.budget != nil && cfg.BudgetCeiling > 0 {
		proposedCost := r.estimateCost(tierModel, ctx.EstimatedInputTokens)
		res := r.budget.Check(ctx.BudgetScope, cfg.BudgetWindowMs, cfg.BudgetCeiling, proposedCost)
		if !res.Allowed {
			if cfg.AllowDowngrade {
				if cheaper, ok := r.nextCheaperTierModel(cfg, cls.Tier); ok {
					target = cheaper
				} else {
					target = original
				}
			} else {
				target = original
			}
			return decide(target, string(ReasonBudgetExceeded), "", "")
		}
	}

	// 8. A/B override.
	if r.ab != nil {
		if exp, variant, ok := r.ab.Assign(cls.Tier, ctx.RunID); ok && variant != nil {
			return decide(variant.Model, string(ReasonABVariant), exp.ID, variant.ID)
		}
	}

	// 9. Routed.
	return decide(target, string(ReasonRouted), "", "")
}

// recommend computes what active routing would choose, independent of
// whichever mode (shadow/active) actually invoked Route. It evaluates the
// same config-gating clauses (1-6) but never touches the A/B manager,
// since a shadow evaluation must not consume a real experiment bucket.
func (r *Router) recommend(cls classifier.Result, cfg Config, ctx RequestContext) ShadowRecommendation {
	if !cfg.Enabled || cfg.Tiers == nil {
		return ShadowRecommendation{WouldApply: false}
	}
	if ctx.HeaderPin != "" || cfg.IsPinned(ctx.OriginalModel) {
		return ShadowRecommendation{WouldApply: false}
	}
	if originalTier, ok := cfg.InverseTierLookup(ctx.OriginalModel); ok {
		if !cfg.AllowDowngrade && cls.Tier.Less(originalTier) {
			return ShadowRecommendation{WouldApply: false}
		}
	}
	if cls.Confidence < cfg.MinConfidence {
		return ShadowRecommendation{WouldApply: false}
	}
	tierModel, ok := cfg.Tiers[cls.Tier]
	if !ok || tierModel == "" {
		return ShadowRecommendation{WouldApply: false}
	}
	if tierModel == FastVirtualModel {
		picked, ok := r.pickFastest(cfg.FastCandidates[cls.Tier])
		if !ok {
			return ShadowRecommendation{WouldApply: false}
		}
		tierModel = picked
	}
	provider, _, _ := resolveAndHeaders(tierModel, cfg)
	return ShadowRecommendation{WouldApply: true, RecommendedModel: tierModel, RecommendedProvider: provider}
}

// pickFastest implements §2's "Latency Tracker.pick() (for 'fast'
// virtual)": among candidates, return the one with the lowest recorded
// p95 latency. A candidate with no samples yet sorts first (p95 reads 0),
// so a never-observed model gets tried before one known to be slow.
// Returns ok=false when there's no tracker or no candidates to choose
// from.
func (r *Router) pickFastest(candidates []string) (string, bool) {
	if r.latency == nil || len(candidates) == 0 {
		return "", false
	}
	best := candidates[0]
	bestP95 := r.latency.P95(best)
	for _, c := range candidates[1:] {
		if p95 := r.latency.P95(c); p95 < bestP95 {
			best, bestP95 = c, p95
		}
	}
	return best, true
}

func (r *Router) estimateCost(modelID string, inputTokens int) float64 {
	if r.pricing == nil {
		return 0
	}
	return r.pricing.EstimateCost(modelID, inputTokens, 0)
}

// nextCheaperTierModel walks tiers below t, nearest first, looking for one
// with a configured model, per §4.6 step 7's "next-cheaper tier" fallback.
func (r *Router) nextCheaperTierModel(cfg Config, t tier.Tier) (string, bool) {
	candidates := make([]tier.Tier, 0, len(tier.All))
	for _, candidate := range tier.All {
		if candidate.Less(t) {
			candidates = append(candidates, candidate)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[j].Less(candidates[i]) })
	for _, candidate := range candidates {
		if m, ok := cfg.Tiers[candidate]; ok && m != "" {
			return m, true
		}
	}
	return "", false
}

func resolveAndHeaders(modelID string, cfg Config) (provider string, source ResolveSource, pattern string) {
	res := ResolveProvider(modelID, cfg.TierProviders)
	return res.Provider, res.Source, res.MatchedPattern
}

func headersFor(provider string, cfg Config) map[string]string {
	if provider != "openrouter" || len(cfg.OpenRouterHeaders) == 0 {
		return nil
	}
	out := make(map[string]string, len(cfg.OpenRouterHeaders))
	for k, v := range cfg.OpenRouterHeaders {
		out[k] = v
	}
	return out
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
