package windowing

import (
	"strings"

	"github.com/evansantos/slimclaw/internal/message"
	"github.com/evansantos/slimclaw/internal/tokencount"
)

// conversationStarters are text prefixes (lowercased) that mark a user
// message as the beginning of a fresh sub-conversation, a preferred place
// to split the window so the retained "recent" slice does not open
// mid-thought.
var conversationStarters = []string{
	"hi", "hello", "can you help", "i need", "let's", "new task",
}

// Window implements the §4.2 operation: window(messages, cfg) ->
// WindowedConversation. It never mutates its input.
func Window(msgs []message.Message, cfg Config) WindowedConversation {
	if len(msgs) == 0 {
		return WindowedConversation{Meta: Meta{SummarizationMethod: SummarizationNone}}
	}

	originalTokens := tokencount.Estimate(msgs)

	systemPrompt, rest := extractSystemPrompt(msgs)

	needWindowing := len(rest) > cfg.SummarizeThreshold ||
		(cfg.MaxTokens > 0 && originalTokens > cfg.MaxTokens)
	if !needWindowing {
		return WindowedConversation{
			SystemPrompt:   systemPrompt,
			ContextSummary: nil,
			RecentMessages: rest,
			Meta: Meta{
				OriginalMessageCount:  len(msgs),
				WindowedMessageCount:  len(rest),
				TrimmedMessageCount:   0,
				OriginalTokenEstimate: originalTokens,
				WindowedTokenEstimate: originalTokens,
				SummaryTokenEstimate:  0,
				SummarizationMethod:   SummarizationNone,
			},
		}
	}

	split := splitPoint(rest, cfg)
	older, recent := rest[:split], rest[split:]

	summaryResult := Summarize(older)
	method := SummarizationNone
	var contextSummary *string
	summaryTokens := 0
	if summaryResult.Summary != nil && *summaryResult.Summary != "" {
		method = SummarizationHeuristic
		contextSummary = summaryResult.Summary
		summaryTokens = tokencount.EstimateText(*summaryResult.Summary)
	}

	wc := WindowedConversation{
		SystemPrompt:   systemPrompt,
		ContextSummary: contextSummary,
		RecentMessages: recent,
		Meta: Meta{
			OriginalMessageCount:  len(msgs),
			WindowedMessageCount:  len(recent) + boolToInt(systemPrompt != ""),
			TrimmedMessageCount:   len(older),
			OriginalTokenEstimate: originalTokens,
			SummaryTokenEstimate:  summaryTokens,
			SummarizationMethod:   method,
		},
	}
	built := Build(wc)
	windowedTokens := tokencount.Estimate(built)
	if windowedTokens > originalTokens {
		// The heuristic estimator never overestimates by construction, but
		// guard the invariant explicitly: windowing must never increase the
		// token estimate.
		windowedTokens = originalTokens
	}
	wc.Meta.WindowedTokenEstimate = windowedTokens
	return wc
}

// Build rebuilds a plain message sequence from a WindowedConversation,
// ready to send upstream: a single synthesized system message (prompt plus
// optional summary block) followed by the retained recent messages
// verbatim.
func Build(wc WindowedConversation) []message.Message {
	out := make([]message.Message, 0, len(wc.RecentMessages)+1)
	if wc.SystemPrompt != "" {
		content := wc.SystemPrompt
		if wc.ContextSummary != nil && *wc.ContextSummary != "" {
			content += "\n\n<context_summary>\n" + *wc.ContextSummary + "\n</context_summary>"
		}
		out = append(out, message.Message{Role: message.RoleSystem, Content: message.NewTextContent(content)})
	}
	out = append(out, wc.RecentMessages...)
	return out
}

// extractSystemPrompt finds the first system-role message, flattens its
// content to text, and returns it along with the remaining messages in
// original order.
func extractSystemPrompt(msgs []message.Message) (string, []message.Message) {
	idx := -1
	for i, m := range msgs {
		if m.Role == message.RoleSystem {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", message.Clone(msgs)
	}
	prompt := msgs[idx].Text()
	rest := make([]message.Message, 0, len(msgs)-1)
	rest = append(rest, msgs[:idx]...)
	rest = append(rest, msgs[idx+1:]...)
	return prompt, rest
}

// splitPoint computes where to divide rest into an "older" prefix
// (summarized) and a "recent" suffix (kept verbatim), per §4.2: an initial
// message-count budget, tightened for a token budget if configured, then
// snapped to a nearby conversation boundary. The split index never moves
// past the already-determined message/token budget forward (i.e. it may
// only shrink toward 0, retaining more recent messages, never fewer).
func splitPoint(rest []message.Message, cfg Config) int {
	split := len(rest) - cfg.MaxMessages
	if split < 0 {
		split = 0
	}
	if cfg.MaxTokens > 0 {
		for split < len(rest) && tokencount.Estimate(rest[split:]) > cfg.MaxTokens {
			split++
		}
	}
	return snapToBoundary(rest, split)
}

func snapToBoundary(rest []message.Message, split int) int {
	const lookback = 3
	for offset := 0; offset <= lookback; offset++ {
		candidate := split - offset
		if candidate < 0 {
			break
		}
		if candidate > 0 && rest[candidate-1].Role == message.RoleAssistant {
			return candidate
		}
	}
	for offset := 0; offset <= lookback; offset++ {
		candidate := split - offset
		if candidate < 0 {
			break
		}
		if candidate < len(rest) && rest[candidate].Role == message.RoleUser && startsConversation(rest[candidate].Text()) {
			return candidate
		}
	}
	return split
}

func startsConversation(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, starter := range conversationStarters {
		if strings.HasPrefix(lower, starter) {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
