// Package caching implements the Cache Breakpoint Annotator (§4.4): it
// marks messages with cache_control hints for the upstream provider's
// prompt cache, never mutating its input.
package caching

import "github.com/evansantos/slimclaw/internal/message"

// Config controls cache annotation.
type Config struct {
	Enabled           bool
	InjectBreakpoints bool
	MinContentLength  int
}

// Stats reports what annotation did to a conversation.
type Stats struct {
	BreakpointsInjected int
	EligibleMessages    int
}

// Result is the output of Annotate.
type Result struct {
	Messages []message.Message
	Stats    Stats
}

// Annotate marks messages with cache_control = {type: "ephemeral"} per the
// rules of §4.4. It always returns new message records; pre-existing
// cache_control annotations are left untouched and count toward
// EligibleMessages but not BreakpointsInjected.
func Annotate(msgs []message.Message, cfg Config) Result {
	out := make([]message.Message, len(msgs))
	copy(out, msgs)

	if !cfg.Enabled || !cfg.InjectBreakpoints {
		return Result{Messages: out}
	}

	stats := Stats{}
	total := len(out)
	for i, m := range out {
		if m.CacheControl != nil {
			stats.EligibleMessages++
			continue
		}
		if !shouldMark(m, i, total, cfg) {
			continue
		}
		out[i] = m.WithCacheControl(&message.CacheControl{Type: "ephemeral"})
		stats.EligibleMessages++
		stats.BreakpointsInjected++
	}
	return Result{Messages: out, Stats: stats}
}

func shouldMark(m message.Message, index, total int, cfg Config) bool {
	if m.Role == message.RoleSystem {
		return true
	}
	if message.ContentSize(m.Content) >= cfg.MinContentLength {
		return true
	}
	if total >= 3 && index == total-2 {
		return true
	}
	return false
}
