// Package classifier implements the Complexity Classifier (§4.5): a
// deterministic, keyword-plus-structural scoring function from a
// conversation to a ComplexityTier with a confidence and human-readable
// reason.
package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evansantos/slimclaw/internal/message"
	"github.com/evansantos/slimclaw/internal/tier"
)

// Classify implements classify(messages) -> ClassificationResult. It reads
// only the last message's text plus structural features of the full
// sequence; identical input always yields a byte-identical result.
func Classify(msgs []message.Message) Result {
	if len(msgs) == 0 {
		return Result{
			Tier:       tier.Simple,
			Confidence: 0.5,
			Reason:     "empty conversation",
			Scores:     uniformScores(),
			Signals:    []string{"structural:empty-conversation"},
		}
	}

	last := msgs[len(msgs)-1]
	text := strings.ToLower(last.Text())
	features := extractStructural(msgs, last)

	rawScores := make(map[tier.Tier]float64, 4)
	var keywordSignals []string
	matched := make(map[tier.Tier][]string, 4)
	for _, t := range tier.All {
		score := 0.0
		for _, kw := range keywordTable[t] {
			if strings.Contains(text, kw.phrase) {
				score += kw.weight
				matched[t] = append(matched[t], kw.phrase)
				keywordSignals = append(keywordSignals, "keyword:"+kw.phrase)
			}
		}
		rawScores[t] = score
	}

	bucket := bucketFor(features.messageLength)
	for _, t := range tier.All {
		if features.hasCodeBlocks {
			rawScores[t] += codeBlockAdjustment(t)
		}
		if features.hasToolCalls {
			rawScores[t] += toolCallAdjustment(t)
		}
		rawScores[t] += lengthAdjustment(bucket, t)
		rawScores[t] += questionAdjustment(features.questionCount, t)
	}

	scores := normalize(rawScores)
	winner, confidence := pickWinner(scores)

	signals := append([]string{}, keywordSignals...)
	signals = append(signals, structuralSignals(features)...)

	reason := buildReason(winner, confidence, features, matched[winner])

	return Result{
		Tier:       winner,
		Confidence: confidence,
		Reason:     reason,
		Scores:     scores,
		Signals:    dedupStrings(signals),
	}
}

func uniformScores() map[tier.Tier]float64 {
	return map[tier.Tier]float64{
		tier.Simple: 0.25, tier.Mid: 0.25, tier.Complex: 0.25, tier.Reasoning: 0.25,
	}
}

// normalize shifts all scores non-negative, then normalizes by sum per
// §4.5 step 3. An all-zero input yields a uniform 0.25 per tier.
func normalize(raw map[tier.Tier]float64) map[tier.Tier]float64 {
	min := 0.0
	for _, t := range tier.All {
		if raw[t] < min {
			min = raw[t]
		}
	}
	shift := 0.0
	if min < 0 {
		shift = -min
	}
	sum := 0.0
	shifted := make(map[tier.Tier]float64, 4)
	for _, t := range tier.All {
		v := raw[t] + shift
		shifted[t] = v
		sum += v
	}
	if sum == 0 {
		return uniformScores()
	}
	out := make(map[tier.Tier]float64, 4)
	for _, t := range tier.All {
		out[t] = shifted[t] / sum
	}
	return out
}

// pickWinner returns argmax plus the §4.5 step 4 confidence formula.
func pickWinner(scores map[tier.Tier]float64) (tier.Tier, float64) {
	ordered := append([]tier.Tier{}, tier.All...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return scores[ordered[i]] > scores[ordered[j]]
	})
	winner := ordered[0]
	best := scores[winner]
	second := 0.0
	if len(ordered) > 1 {
		second = scores[ordered[1]]
	}
	confidence := best - second + 0.5
	if confidence < 0.5 {
		confidence = 0.5
	}
	if confidence > 1 {
		confidence = 1
	}
	return winner, confidence
}

func buildReason(winner tier.Tier, confidence float64, f structuralFeatures, matchedKeywords []string) string {
	band := "low"
	switch {
	case confidence >= 0.7:
		band = "high"
	case confidence >= 0.5:
		band = "medium"
	}

	structuralNote := "no notable structural signals"
	switch {
	case f.hasCodeBlocks:
		structuralNote = "code block present"
	case f.hasToolCalls:
		structuralNote = "tool calls present"
	case f.questionCount > 1:
		structuralNote = "multiple questions"
	case bucketFor(f.messageLength) == lengthVeryLong:
		structuralNote = "very long message"
	}

	hint := domainHint(winner, matchedKeywords)
	parts := []string{fmt.Sprintf("%s (%s confidence)", winner, band), structuralNote}
	if hint != "" {
		parts = append(parts, hint)
	}
	return strings.Join(parts, ", ")
}

func domainHint(winner tier.Tier, matchedKeywords []string) string {
	hasAny := func(phrases ...string) bool {
		for _, kw := range matchedKeywords {
			for _, p := range phrases {
				if kw == p {
					return true
				}
			}
		}
		return false
	}
	switch winner {
	case tier.Reasoning:
		if hasAny("prove", "proof", "theorem", "proof by contradiction") {
			return "mathematical content detected"
		}
		return "deep reasoning required"
	case tier.Complex:
		if hasAny("architecture", "design pattern") {
			return "architectural discussion detected"
		}
		return "complex technical task"
	}
	return ""
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
