package orchestrator

import "errors"

// Sentinel errors naming §7's error taxonomy. No code path returns
// them: the sidecar maps internal/forwarder's ErrTimeout/ErrTransport/
// ErrUnknownProvider onto 504/502 in classifyForwardError and answers a
// malformed body or a non-virtual model with 400 directly. Every other
// internal failure mode — classification,
// windowing, routing, cache annotation — has a total fallback and never
// reaches these; only inbound parsing and the one outbound forwarder call
// fail in the ways they name.
var (
	// ErrUpstreamTransport covers DNS/connect/reset failures reaching the
	// resolved provider. Maps to HTTP 502.
	ErrUpstreamTransport = errors.New("orchestrator: upstream transport failure")

	// ErrUpstreamTimeout covers a forwarder call that exceeded its
	// configured timeout. Maps to HTTP 504.
	ErrUpstreamTimeout = errors.New("orchestrator: upstream request timed out")

	// ErrMalformedRequest covers an inbound body that isn't valid
	// chat-completion JSON. Maps to HTTP 400.
	ErrMalformedRequest = errors.New("orchestrator: malformed inbound request")

	// ErrUnknownVirtualModel covers a request naming a model that isn't
	// the virtual catalogue's slimclaw/* namespace. Maps to HTTP 400.
	ErrUnknownVirtualModel = errors.New("orchestrator: unknown virtual model")
)
