package sidecar

import (
	"net/http"
	"strconv"
	"time"

	"github.com/evansantos/slimclaw/internal/tsdb"
)

// TSDBQueryHandler serves GET /admin/tsdb: historical cost/latency trend
// data for dashboards, backed by the same SQLite file as the rest of the
// store. Query params mirror tsdb.QueryParams: metric (required),
// model_id, provider_id, start_ms, end_ms, step_ms.
func TSDBQueryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		metric := q.Get("metric")
		if metric == "" {
			writeError(w, http.StatusBadRequest, "metric query parameter is required")
			return
		}

		params := tsdb.QueryParams{
			Metric:     metric,
			ModelID:    q.Get("model_id"),
			ProviderID: q.Get("provider_id"),
			StepMs:     parseInt64Param(q.Get("step_ms"), 0),
		}
		if startMs := parseInt64Param(q.Get("start_ms"), 0); startMs > 0 {
			params.Start = time.UnixMilli(startMs)
		}
		if endMs := parseInt64Param(q.Get("end_ms"), 0); endMs > 0 {
			params.End = time.UnixMilli(endMs)
		}

		series, err := d.TSDB.Query(r.Context(), params)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "tsdb query failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"series": series})
	}
}

func parseInt64Param(v string, def int64) int64 {
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
