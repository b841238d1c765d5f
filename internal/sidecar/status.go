package sidecar

import (
	"net/http"
	"time"
)

// statusResponse is the aggregated view slimclawctl's `/slimclaw` command
// renders (§6 "CLI surface"): request/cost/savings totals plus the live
// configuration summary, all in one round trip.
type statusResponse struct {
	Mode             string  `json:"mode"`
	RoutingEnabled   bool    `json:"routing_enabled"`
	WindowingEnabled bool    `json:"windowing_enabled"`
	CachingEnabled   bool    `json:"caching_enabled"`
	TotalRequests    int64   `json:"total_requests"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	TokensSaved      int64   `json:"tokens_saved"`
	ErrorCount       int64   `json:"error_count"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	Global           any     `json:"global_aggregates,omitempty"`
}

// StatusHandler serves GET /admin/status: a point-in-time snapshot of the
// pipeline's effect, queried over HTTP rather than shared memory so
// slimclawctl can run as a separate process against a running sidecar.
func StatusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := d.Config()
		resp := statusResponse{
			Mode:             string(cfg.Mode),
			RoutingEnabled:   cfg.Routing.Enabled,
			WindowingEnabled: cfg.Windowing.Enabled,
			CachingEnabled:   cfg.Caching.Enabled,
		}

		if d.Store != nil {
			summary, err := d.Store.StatusSummary(r.Context(), time.Now().Add(-24*time.Hour))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "status summary unavailable")
				return
			}
			resp.TotalRequests = summary.TotalRequests
			resp.TotalCostUSD = summary.TotalCostUSD
			resp.TokensSaved = summary.TokensSaved
			resp.ErrorCount = summary.ErrorCount
			resp.AvgLatencyMs = summary.AvgLatencyMs
		}

		if d.Stats != nil {
			resp.Global = d.Stats.Global()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
