// Package routing implements the Routing Decision Engine (§4.6), Provider
// Resolver (§4.7), and RoutingReason/RoutingDecision sum types that make up
// the model-selection stage of the pipeline.
package routing

import "github.com/evansantos/slimclaw/internal/tier"

// Reason is a closed enum naming which precedence clause of §4.6 produced
// a RoutingDecision. Every Router branch produces exactly one value.
type Reason string

const (
	ReasonRouted          Reason = "routed"
	ReasonPinned          Reason = "pinned"
	ReasonLowConfidence   Reason = "low-confidence"
	ReasonRoutingDisabled Reason = "routing-disabled"
	ReasonBudgetExceeded  Reason = "budget-exceeded"
	ReasonABVariant       Reason = "ab-variant"
)

// FastVirtualModel is the sentinel tier target (§2's pipeline diagram:
// "Latency Tracker.pick() (for 'fast' virtual)") that tells the Router to
// resolve a tier to whichever model in cfg.FastCandidates[tier] currently
// has the lowest recorded p95 latency, instead of a fixed modelId. A tier
// only opts into this when its cfg.Tiers entry is literally this value.
const FastVirtualModel = "slimclaw/fast"

// Thinking attaches an extended-reasoning budget to a decision for the
// reasoning tier.
type Thinking struct {
	Type        string
	BudgetTokens int
}

// ShadowRecommendation records what active routing would have done,
// computed regardless of which mode actually produced the decision. It
// lets shadow-mode and active-mode logs stay comparable.
type ShadowRecommendation struct {
	WouldApply         bool
	RecommendedModel   string
	RecommendedProvider string
}

// Decision is the immutable output of Route.
type Decision struct {
	OriginalModel string
	TargetModel   string
	Provider      string
	Tier          tier.Tier
	Confidence    float64
	Reason        Reason
	Thinking      *Thinking
	Headers       map[string]string
	Shadow        ShadowRecommendation

	// ExperimentID/VariantID are populated only when Reason ==
	// ReasonABVariant.
	ExperimentID string
	VariantID    string
}

// Config is the validated, immutable routing configuration a Router
// consults on every request. It is built once at startup by internal/app;
// see SPEC_FULL.md's AMBIENT STACK "Configuration" section.
type Config struct {
	Enabled           bool
	AllowDowngrade    bool
	PinnedModels      map[string]struct{}
	MinConfidence     float64
	Tiers             map[tier.Tier]string // tier -> modelId
	TierProviders     map[string]string    // pattern -> providerId
	ReasoningBudget   int
	OpenRouterHeaders map[string]string

	// FastCandidates lists, per tier, the pool of concrete models the
	// Router's Latency Tracker picks among when that tier's cfg.Tiers
	// entry is FastVirtualModel. A tier absent here or with an empty pool
	// falls back to clause 6's "undefined" outcome, same as any other
	// unconfigured tier.
	FastCandidates map[tier.Tier][]string

	// BudgetWindowMs/BudgetCeiling parameterize the sliding-window check
	// the Router runs against internal/budget before finalizing a tier's
	// model (§4.6 step 7); the scope itself travels on RequestContext.
	BudgetWindowMs int64
	BudgetCeiling  float64
}

// InverseTierLookup returns the tier a model is configured as the target
// for, if any — used by the downgrade-block clause (§4.6 step 4).
func (c Config) InverseTierLookup(modelID string) (tier.Tier, bool) {
	for t, m := range c.Tiers {
		if m == modelID {
			return t, true
		}
	}
	return 0, false
}

// IsPinned reports whether modelID is in the configured pin set.
func (c Config) IsPinned(modelID string) bool {
	_, ok := c.PinnedModels[modelID]
	return ok
}

// RequestContext carries the per-request facts the Router needs beyond the
// classification result: the caller's original model, an optional header
// pin, the deterministic run ID for A/B assignment, and the budget scope.
type RequestContext struct {
	OriginalModel  string
	HeaderPin      string // ctx.headers["x-model-pinned"], already extracted
	RunID          string
	BudgetScope    string
	EstimatedInputTokens int
}

func (c RequestContext) originalModelOrUnknown() string {
	if c.OriginalModel == "" {
		return "unknown"
	}
	return c.OriginalModel
}
