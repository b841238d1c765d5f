package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/evansantos/slimclaw/internal/async"
	"github.com/evansantos/slimclaw/internal/forwarder"
	"github.com/evansantos/slimclaw/internal/orchestrator"
	"github.com/evansantos/slimclaw/internal/routing"
	"github.com/evansantos/slimclaw/internal/stats"
	"github.com/evansantos/slimclaw/internal/store"
	"github.com/evansantos/slimclaw/internal/tsdb"
)

// maxRequestBody bounds the inbound chat-completion body. Well above any
// realistic prompt; it exists so a misbehaving client can't exhaust memory.
const maxRequestBody = 16 << 20 // 16MiB

// copyBufferSize is the chunk size for the streaming passthrough copy loop,
// grounded on the teacher's handler_source_ref.go streaming branch.
const copyBufferSize = 32 * 1024

// envelope is the subset of the inbound chat-completion request this
// system reads; every other field passes through untouched in the raw
// body the forwarder sends upstream.
type envelope struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages json.RawMessage `json:"messages"`
}

// ChatCompletionsHandler implements the sidecar's one business endpoint
// (§4.12): decode, run the request through the orchestrator, forward the
// rewritten body upstream, and stream the response back untouched.
func ChatCompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		rawBody, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "request body too large or unreadable")
			return
		}

		var env envelope
		if err := json.Unmarshal(rawBody, &env); err != nil {
			writeError(w, http.StatusBadRequest, "malformed chat-completion request")
			return
		}
		if !orchestrator.IsVirtualModel(env.Model) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown virtual model %q", env.Model))
			return
		}

		msgs, err := decodeMessages(env.Messages)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed messages array")
			return
		}

		reqCtx := buildRequestContext(r, env.Model)
		cfg := d.Config()
		result := d.Orchestrator.Optimize(msgs, cfg, reqCtx)

		outBody, err := replaceMessages(rawBody, result.Messages)
		if err != nil {
			d.Logger.Error("sidecar: rewrite messages failed, forwarding original body",
				slog.String("error", err.Error()))
			outBody = rawBody
		}

		fwdReq := forwarder.Request{
			Body:           outBody,
			TargetProvider: result.ForwardProvider,
			TargetModel:    result.ForwardModel,
		}
		if result.RoutingDecision != nil {
			fwdReq.Headers = result.RoutingDecision.Headers
		}

		resp, err := d.Forwarder.Forward(r.Context(), fwdReq)
		if err != nil {
			status, class := classifyForwardError(err)
			writeError(w, status, err.Error())
			recordOutcome(r.Context(), d, result, reqCtx, cfg.Mode, status, class, time.Since(start), 0)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		setDebugHeaders(w.Header(), result, reqCtx)

		var outputTokens int
		if env.Stream {
			outputTokens = streamResponse(w, resp)
		} else {
			outputTokens = bufferedResponse(w, resp)
		}

		recordOutcome(r.Context(), d, result, reqCtx, cfg.Mode, resp.StatusCode, "", time.Since(start), outputTokens)
	}
}

// buildRequestContext reads the pinning/identity headers documented in §6
// into an orchestrator.RequestContext. X-Agent-Id/X-Session-Key pair with
// this system's outbound X-SlimClaw-Agent-Id/X-SlimClaw-Session-Key debug
// headers.
func buildRequestContext(r *http.Request, model string) orchestrator.RequestContext {
	agentID := r.Header.Get("X-Agent-Id")
	budgetScope := agentID
	if budgetScope == "" {
		budgetScope = "default"
	}
	runID := middleware.GetReqID(r.Context())
	return orchestrator.RequestContext{
		OriginalModel:      model,
		HeaderPin:          r.Header.Get("X-Model-Pinned"),
		RunID:              runID,
		BudgetScope:        budgetScope,
		AgentID:            agentID,
		SessionKey:         r.Header.Get("X-Session-Key"),
		BypassOptimization: r.Header.Get("X-SlimClaw-Bypass") == "true",
	}
}

// setDebugHeaders attaches §6's X-SlimClaw-* response headers so a caller
// can observe what the pipeline did without parsing the body.
func setDebugHeaders(h http.Header, res orchestrator.Result, reqCtx orchestrator.RequestContext) {
	h.Set("X-SlimClaw-Original-Model", reqCtx.OriginalModel)
	h.Set("X-SlimClaw-Forward-Model", res.ForwardModel)
	h.Set("X-SlimClaw-Forward-Provider", res.ForwardProvider)
	h.Set("X-SlimClaw-Original-Tokens", strconv.Itoa(res.Metrics.OriginalTokens))
	h.Set("X-SlimClaw-Optimized-Tokens", strconv.Itoa(res.Metrics.OptimizedTokens))
	h.Set("X-SlimClaw-Tokens-Saved", strconv.Itoa(res.Metrics.TokensSaved))
	h.Set("X-SlimClaw-Savings-Percent", strconv.FormatFloat(res.Metrics.SavingsPercent, 'f', 2, 64))
	h.Set("X-SlimClaw-Windowing-Applied", strconv.FormatBool(res.Metrics.WindowingApplied))
	h.Set("X-SlimClaw-Cache-Breakpoints", strconv.Itoa(res.Metrics.CacheBreakpointsInjected))
	if res.Metrics.ClassificationTier != "" {
		h.Set("X-SlimClaw-Classification-Tier", res.Metrics.ClassificationTier)
		h.Set("X-SlimClaw-Classification-Confidence", strconv.FormatFloat(res.Metrics.ClassificationConfidence, 'f', 2, 64))
	}
	if res.RoutingDecision != nil {
		h.Set("X-SlimClaw-Routing-Reason", string(res.RoutingDecision.Reason))
		if res.RoutingDecision.ExperimentID != "" {
			h.Set("X-SlimClaw-Experiment-Id", res.RoutingDecision.ExperimentID)
			h.Set("X-SlimClaw-Variant-Id", res.RoutingDecision.VariantID)
		}
	}
	if reqCtx.AgentID != "" {
		h.Set("X-SlimClaw-Agent-Id", reqCtx.AgentID)
	}
	if reqCtx.SessionKey != "" {
		h.Set("X-SlimClaw-Session-Key", reqCtx.SessionKey)
	}
}

// classifyForwardError maps the forwarder's sentinel connect/timeout/
// transport errors onto HTTP status codes per §7's error taxonomy. A
// non-2xx upstream reply is not one of these: Forward returns it as a
// normal response so the caller streams its status/body through
// unchanged instead of reaching this function at all.
func classifyForwardError(err error) (status int, class string) {
	switch {
	case errors.Is(err, forwarder.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, forwarder.ErrTransport):
		return http.StatusBadGateway, "transport"
	case errors.Is(err, forwarder.ErrUnknownProvider):
		return http.StatusBadGateway, "unknown_provider"
	default:
		return http.StatusBadGateway, "unknown"
	}
}

// streamResponse copies resp.Body to w as it arrives, flushing after every
// chunk so the caller sees tokens as the upstream provider emits them.
// Grounded on the teacher's handler_source_ref.go streaming branch: fixed
// buffer, no read-ahead, no buffering beyond what net/http itself holds.
func streamResponse(w http.ResponseWriter, resp *http.Response) int {
	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	total := 0
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total
			}
			total += n
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
	}
	return estimateStreamedOutputTokens(total)
}

func bufferedResponse(w http.ResponseWriter, resp *http.Response) int {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "reading upstream response failed")
		return 0
	}
	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
	return parseUsageOutputTokens(body)
}

func copyResponseHeaders(dst, src http.Header) {
	for k, v := range src {
		switch k {
		case "Content-Length", "Content-Type", "Connection":
			continue
		}
		for _, vv := range v {
			dst.Add(k, vv)
		}
	}
}

// parseUsageOutputTokens best-effort extracts usage.completion_tokens from
// a non-streaming chat-completion response, for cost accounting. A missing
// or malformed usage block degrades to 0, never an error.
func parseUsageOutputTokens(body []byte) int {
	var parsed struct {
		Usage struct {
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0
	}
	return parsed.Usage.CompletionTokens
}

// estimateStreamedOutputTokens approximates output tokens from the number
// of bytes streamed back, using the same chars-per-token heuristic as
// internal/tokencount, since a streamed response's usage block (if any)
// arrives interleaved with SSE framing this handler doesn't parse.
func estimateStreamedOutputTokens(bytesWritten int) int {
	const charsPerToken = 4
	return bytesWritten / charsPerToken
}

// recordOutcome posts the request's effect on cost/latency tracking
// on to the supporting services. Every sink is best-effort: a failure here
// never changes the response already sent to the caller.
func recordOutcome(ctx context.Context, d Dependencies, result orchestrator.Result, reqCtx orchestrator.RequestContext, mode orchestrator.Mode, statusCode int, errorClass string, elapsed time.Duration, outputTokens int) {
	latencyMs := float64(elapsed.Microseconds()) / 1000
	cost := 0.0
	if d.Pricing != nil {
		cost = d.Pricing.EstimateCost(result.ForwardModel, result.Metrics.OptimizedTokens, outputTokens)
	}

	var targetModel, providerID, tierName string
	if result.RoutingDecision != nil {
		targetModel = result.RoutingDecision.TargetModel
		providerID = result.RoutingDecision.Provider
		tierName = result.RoutingDecision.Tier.String()
	} else {
		targetModel = result.ForwardModel
		providerID = result.ForwardProvider
	}

	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues(string(mode), strconv.Itoa(statusCode)).Inc()
	}
	if d.Latency != nil && latencyMs > 0 {
		d.Latency.Record(result.ForwardModel, latencyMs)
	}

	if d.Recorder != nil {
		outcome := async.OutcomeRecord{
			Kind:        async.OutcomeKindBudget,
			BudgetScope: reqCtx.BudgetScope,
			Cost:        cost,
			TimestampMs: time.Now().UnixMilli(),
		}
		if err := d.Recorder.Record(ctx, outcome); err != nil {
			d.Logger.Warn("sidecar: budget outcome recording failed", slog.String("error", err.Error()))
		}
		if result.RoutingDecision != nil && result.RoutingDecision.Reason == routing.ReasonABVariant {
			abOutcome := async.OutcomeRecord{
				Kind:         async.OutcomeKindABTest,
				RunID:        reqCtx.RunID,
				ExperimentID: result.RoutingDecision.ExperimentID,
				VariantID:    result.RoutingDecision.VariantID,
				LatencyMs:    latencyMs,
				OutputTokens: outputTokens,
				TimestampMs:  time.Now().UnixMilli(),
			}
			if err := d.Recorder.Record(ctx, abOutcome); err != nil {
				d.Logger.Warn("sidecar: a/b outcome recording failed", slog.String("error", err.Error()))
			}
		}
	}

	if d.Stats != nil {
		d.Stats.Record(stats.Snapshot{
			Timestamp:    time.Now(),
			ModelID:      result.ForwardModel,
			ProviderID:   providerID,
			LatencyMs:    latencyMs,
			CostUSD:      cost,
			Success:      statusCode < 400,
			InputTokens:  result.Metrics.OptimizedTokens,
			OutputTokens: outputTokens,
		})
	}

	if d.Store != nil {
		entry := store.RequestLog{
			Timestamp:     time.Now(),
			OriginalModel: reqCtx.OriginalModel,
			TargetModel:   targetModel,
			ProviderID:    providerID,
			Tier:          tierName,
			Mode:          string(mode),
			CostUSD:       cost,
			TokensSaved:   result.Metrics.TokensSaved,
			LatencyMs:     elapsed.Milliseconds(),
			StatusCode:    statusCode,
			ErrorClass:    errorClass,
			RequestID:     reqCtx.RunID,
		}
		if err := d.Store.LogRequest(ctx, entry); err != nil {
			d.Logger.Warn("sidecar: request log persistence failed", slog.String("error", err.Error()))
		}
	}

	if d.TSDB != nil {
		now := time.Now().UTC()
		d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: "latency_ms", ModelID: targetModel, ProviderID: providerID, Value: latencyMs})
		d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: "cost_usd", ModelID: targetModel, ProviderID: providerID, Value: cost})
	}
}

