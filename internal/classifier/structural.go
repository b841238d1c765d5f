package classifier

import (
	"regexp"
	"strings"

	"github.com/evansantos/slimclaw/internal/message"
	"github.com/evansantos/slimclaw/internal/tier"
)

var codeBlockRe = regexp.MustCompile("```|`[^`]+`")

type structuralFeatures struct {
	hasCodeBlocks bool
	hasToolCalls  bool
	messageLength int
	questionCount int
}

type lengthBucket int

const (
	lengthVeryShort lengthBucket = iota
	lengthShort
	lengthMedium
	lengthLong
	lengthVeryLong
)

func bucketFor(n int) lengthBucket {
	switch {
	case n <= 50:
		return lengthVeryShort
	case n <= 200:
		return lengthShort
	case n <= 1000:
		return lengthMedium
	case n <= 3000:
		return lengthLong
	default:
		return lengthVeryLong
	}
}

func extractStructural(msgs []message.Message, last message.Message) structuralFeatures {
	text := last.Text()
	f := structuralFeatures{
		hasCodeBlocks: codeBlockRe.MatchString(text),
		messageLength: len(text),
		questionCount: strings.Count(text, "?"),
	}
	if last.HasToolCalls() {
		f.hasToolCalls = true
	}
	for _, m := range msgs {
		if m.HasToolCalls() || m.Role == message.RoleTool {
			f.hasToolCalls = true
			break
		}
	}
	return f
}

// codeBlockAdjustment, toolCallAdjustment, and lengthAdjustment implement
// the §4.5 structural adjustment tables.
func codeBlockAdjustment(t tier.Tier) float64 {
	switch t {
	case tier.Simple:
		return -0.3
	case tier.Mid:
		return 0.4
	case tier.Complex:
		return 0.6
	case tier.Reasoning:
		return 0.2
	}
	return 0
}

func toolCallAdjustment(t tier.Tier) float64 {
	switch t {
	case tier.Simple:
		return -0.8
	case tier.Mid:
		return 0.6
	case tier.Complex:
		return 1.0
	case tier.Reasoning:
		return 0.5
	}
	return 0
}

var lengthAdjustmentTable = map[lengthBucket]map[tier.Tier]float64{
	lengthVeryShort: {tier.Simple: 0.8, tier.Mid: 0.0, tier.Complex: -0.3, tier.Reasoning: -0.5},
	lengthShort:     {tier.Simple: 0.4, tier.Mid: 0.1, tier.Complex: -0.1, tier.Reasoning: -0.3},
	lengthMedium:    {tier.Simple: 0.0, tier.Mid: 0.2, tier.Complex: 0.1, tier.Reasoning: 0.0},
	lengthLong:      {tier.Simple: -0.3, tier.Mid: 0.0, tier.Complex: 0.3, tier.Reasoning: 0.2},
	lengthVeryLong:  {tier.Simple: -0.6, tier.Mid: -0.2, tier.Complex: 0.3, tier.Reasoning: 0.6},
}

func lengthAdjustment(bucket lengthBucket, t tier.Tier) float64 {
	return lengthAdjustmentTable[bucket][t]
}

// questionAdjustment applies the single-vs-multiple-question adjustment.
// Only simple and reasoning have a spec-mandated non-zero adjustment.
func questionAdjustment(count int, t tier.Tier) float64 {
	if count == 0 {
		return 0
	}
	if count == 1 {
		switch t {
		case tier.Simple:
			return 0.3
		case tier.Reasoning:
			return -0.2
		}
		return 0
	}
	// multiple questions
	switch t {
	case tier.Simple:
		return -0.2
	case tier.Reasoning:
		return 0.3
	}
	return 0
}

func structuralSignals(f structuralFeatures) []string {
	var signals []string
	if f.hasCodeBlocks {
		signals = append(signals, "structural:code-blocks")
	}
	if f.hasToolCalls {
		signals = append(signals, "structural:tool-calls")
	}
	switch bucketFor(f.messageLength) {
	case lengthShort, lengthVeryShort:
		signals = append(signals, "structural:short-message")
	case lengthLong:
		signals = append(signals, "structural:long-message")
	case lengthVeryLong:
		signals = append(signals, "structural:very-long-message")
	}
	if f.questionCount > 1 {
		signals = append(signals, "structural:multiple-questions")
	}
	return signals
}
