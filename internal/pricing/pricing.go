// Package pricing implements the Pricing component (§4.8): cost
// estimation per model with tier-based fallback, and the routing-savings
// percentage the orchestrator reports in its debug headers and metrics.
package pricing

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/evansantos/slimclaw/internal/tier"
)

// Rates is the per-1000-token input/output price for one model.
type Rates struct {
	InputPer1k  float64
	OutputPer1k float64
}

// Table holds a static pricing map plus per-tier fallback rates, guarded
// by a mutex so a background refresh can swap it as an atomic full-table
// replacement (§5: "dynamic pricing refresh is an atomic full-table
// replacement").
type Table struct {
	mu          sync.RWMutex
	rates       map[string]Rates
	tierDefault map[tier.Tier]Rates
}

// NewTable constructs a Table from a static rate map plus the tier-default
// fallback table used when a model is absent from rates.
func NewTable(rates map[string]Rates, tierDefault map[tier.Tier]Rates) *Table {
	if rates == nil {
		rates = map[string]Rates{}
	}
	if tierDefault == nil {
		tierDefault = DefaultTierRates()
	}
	return &Table{rates: rates, tierDefault: tierDefault}
}

// DefaultTierRates is the built-in fallback used when no pricing refresh
// has ever populated a rate for a model. Per §4.8, the "complex" tier rate
// is the fallback used for wholly-unknown models.
func DefaultTierRates() map[tier.Tier]Rates {
	return map[tier.Tier]Rates{
		tier.Simple:    {InputPer1k: 0.00025, OutputPer1k: 0.00125},
		tier.Mid:       {InputPer1k: 0.003, OutputPer1k: 0.015},
		tier.Complex:   {InputPer1k: 0.015, OutputPer1k: 0.075},
		tier.Reasoning: {InputPer1k: 0.015, OutputPer1k: 0.075},
	}
}

// EstimateCost implements §4.8 estimateCost: a static-table lookup with
// tier-inference fallback (the complex-tier rate) for unknown models.
func (t *Table) EstimateCost(modelID string, inputTokens, outputTokens int) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rates, ok := t.rates[modelID]
	if !ok {
		rates = t.tierDefault[tier.Complex]
	}
	return float64(inputTokens)/1000*rates.InputPer1k + float64(outputTokens)/1000*rates.OutputPer1k
}

// RatesFor looks up the rates this table would use for a model, for
// callers (the Budget Tracker) that need the rate without computing a
// cost immediately.
func (t *Table) RatesFor(modelID string) Rates {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rates, ok := t.rates[modelID]; ok {
		return rates
	}
	return t.tierDefault[tier.Complex]
}

// Replace performs the atomic full-table swap a pricing refresh triggers.
func (t *Table) Replace(rates map[string]Rates) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates = rates
}

// CalculateRoutingSavings implements §4.8 calculateRoutingSavings:
// (fromCost - toCost) / fromCost * 100, rounded to 2 decimals. Same model
// (or zero fromCost) yields exactly 0; a cost increase yields a negative
// percentage.
func (t *Table) CalculateRoutingSavings(fromModel, toModel string, inputTokens, outputTokens int) float64 {
	if fromModel == toModel {
		return 0
	}
	fromCost := t.EstimateCost(fromModel, inputTokens, outputTokens)
	if fromCost == 0 {
		return 0
	}
	toCost := t.EstimateCost(toModel, inputTokens, outputTokens)
	pct := (fromCost - toCost) / fromCost * 100
	return math.Round(pct*100) / 100
}

const litellmPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

type litellmEntry struct {
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`
}

// RefreshLoop polls the LiteLLM pricing JSON on an interval and performs
// an atomic full-table replacement on success, matching the teacher's
// pricingRefreshLoop/refreshPricing pattern. Fetch failures log a warning
// and leave the existing table untouched; they never propagate as errors.
func (t *Table) RefreshLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	t.refreshOnce(ctx, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refreshOnce(ctx, logger)
		}
	}
}

func (t *Table) refreshOnce(parent context.Context, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, litellmPricingURL, nil)
	if err != nil {
		logger.Warn("pricing refresh: build request failed", slog.String("error", err.Error()))
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn("pricing refresh: fetch failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("pricing refresh: unexpected status", slog.Int("status", resp.StatusCode))
		return
	}

	var raw map[string]litellmEntry
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		logger.Warn("pricing refresh: decode failed", slog.String("error", err.Error()))
		return
	}

	rates := make(map[string]Rates, len(raw))
	for modelID, entry := range raw {
		rates[modelID] = Rates{
			InputPer1k:  entry.InputCostPerToken * 1000,
			OutputPer1k: entry.OutputCostPerToken * 1000,
		}
	}
	t.Replace(rates)
	logger.Info("pricing refresh: updated", slog.Int("models", len(rates)))
}
