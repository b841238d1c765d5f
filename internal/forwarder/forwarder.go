// Package forwarder implements the Request Forwarder (§4.13): the single
// outbound HTTP call that carries an (already-optimized) chat-completion
// request to whichever provider the Router selected, passing the upstream
// response back unchanged so the sidecar can stream it through untouched.
//
// Grounded on the teacher's internal/providers/http.go DoRequest/
// DoStreamRequest: same span-per-call and request-ID-forwarding shape.
// The teacher's Retry-After parsing is not carried over: a non-2xx reply
// passes through unchanged. The per-vendor adapters that sat above that generic
// dispatch layer are gone — this package forwards the inbound JSON
// unchanged but for the model field, rather than re-shaping it per vendor.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Sentinel errors the orchestrator maps onto its own error taxonomy.
var (
	ErrUnknownProvider = errors.New("forwarder: unknown provider")
	ErrTimeout         = errors.New("forwarder: upstream request timed out")
	ErrTransport       = errors.New("forwarder: upstream transport failure")
)

const chatCompletionsPath = "/v1/chat/completions"

// Request is the input to Forward: the original request body, any headers
// the Router attached (e.g. OpenRouter routing headers), and the resolved
// provider/model target.
type Request struct {
	Body           []byte
	Headers        map[string]string
	TargetProvider string
	TargetModel    string
}

// Forwarder issues the single outbound HTTP call of §4.13.
type Forwarder struct {
	client      *http.Client
	credentials CredentialSource
	timeout     time.Duration
}

// New constructs a Forwarder. timeout bounds every outbound call; zero
// disables the bound (not recommended outside tests).
func New(client *http.Client, credentials CredentialSource, timeout time.Duration) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Forwarder{client: client, credentials: credentials, timeout: timeout}
}

// Forward implements §4.13. It returns the upstream *http.Response
// unchanged (status, headers, and Body as a streaming reader still open)
// so the sidecar can copy it through; the caller owns closing resp.Body.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*http.Response, error) {
	creds, ok := f.credentials.Credentials(req.TargetProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.TargetProvider)
	}

	body, err := overwriteModel(req.Body, req.TargetModel)
	if err != nil {
		return nil, fmt.Errorf("forwarder: rewrite model field: %w", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	tracerCtx, span := otel.Tracer("slimclaw.forwarder").Start(ctx, "forwarder.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("slimclaw.provider", req.TargetProvider),
			attribute.String("slimclaw.target_model", req.TargetModel),
		),
	)
	defer span.End()

	url := creds.BaseURL + chatCompletionsPath
	httpReq, err := http.NewRequestWithContext(tracerCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if reqID := GetRequestID(ctx); reqID != "" {
		httpReq.Header.Set("X-Request-ID", reqID)
	}
	otel.GetTextMapPropagator().Inject(tracerCtx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := f.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			span.SetStatus(codes.Error, "timeout")
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		span.SetStatus(codes.Error, "transport failure")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	// A non-2xx reply is still a successful round trip as far as Forward is
	// concerned: §7 requires upstream 4xx/5xx be propagated with status,
	// headers, and body unchanged, so the caller streams resp through
	// exactly like a 2xx. Only an unknown provider, an unparseable body and
	// the connect/timeout/transport failures above return an error.
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	resp.Body = &spanCloser{ReadCloser: resp.Body, span: span}
	return resp, nil
}

// overwriteModel rewrites only the top-level "model" field of body,
// leaving every other field byte-identical — §4.13's "original JSON with
// its model field overwritten".
func overwriteModel(body []byte, targetModel string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	modelJSON, err := json.Marshal(targetModel)
	if err != nil {
		return nil, err
	}
	fields["model"] = modelJSON
	return json.Marshal(fields)
}

// spanCloser ends the forward span when the caller finishes reading the
// streamed response body, since the span must outlive the initial call
// for a streaming response.
type spanCloser struct {
	io.ReadCloser
	span trace.Span
}

func (sc *spanCloser) Close() error {
	err := sc.ReadCloser.Close()
	sc.span.End()
	return err
}
