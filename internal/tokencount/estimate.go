// Package tokencount implements the system's cheap, deterministic token
// estimator. It is a pure function of its input: no network calls, no
// vendor tokenizer, O(total chars). Underestimation is acceptable;
// overestimation is not, since it would trigger spurious windowing.
package tokencount

import (
	"math"

	"github.com/evansantos/slimclaw/internal/message"
)

const (
	// roleOverheadTokens approximates the fixed per-message framing cost
	// (role marker, separators) that every chat wire format pays.
	roleOverheadTokens = 5
	// blockOverheadTokens is charged per non-text content block (images,
	// tool_use blocks, etc.) whose token cost cannot be derived from text
	// length alone.
	blockOverheadTokens = 4
	// toolCallOverheadTokens is charged per tool-call record attached to a
	// message, on top of whatever text the call's arguments contribute.
	toolCallOverheadTokens = 6
	// charsPerToken is the heuristic compression ratio used throughout this
	// package: roughly four characters per token for English prose.
	charsPerToken = 4.0
)

// Estimate returns a non-negative token estimate for a full message
// sequence.
func Estimate(msgs []message.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// EstimateMessage returns a non-negative token estimate for a single
// message, including its role overhead, content, and any tool calls.
func EstimateMessage(m message.Message) int {
	total := roleOverheadTokens
	total += EstimateContent(m.Content)
	total += len(m.ToolCalls) * toolCallOverheadTokens
	return total
}

// EstimateContent returns a non-negative token estimate for a single
// content value, independent of any surrounding message.
func EstimateContent(c message.Content) int {
	if !c.IsBlocks() {
		return charsToTokens(len(c.Text))
	}
	total := 0
	for _, b := range c.Blocks {
		if b.Text != "" {
			total += charsToTokens(len(b.Text))
			continue
		}
		total += blockOverheadTokens
	}
	return total
}

// EstimateText estimates the token count of a raw string, e.g. a
// candidate context summary before it is wrapped in a Message.
func EstimateText(s string) int {
	return charsToTokens(len(s))
}

func charsToTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return int(math.Ceil(float64(chars) / charsPerToken))
}
