package windowing

import (
	"regexp"
	"strings"

	"github.com/evansantos/slimclaw/internal/message"
	"github.com/evansantos/slimclaw/internal/tokencount"
)

// SummaryResult is the output of Summarize: the heuristic key-points
// summary (nil when nothing survived significance filtering), plus the
// bookkeeping counts the Windower attaches to its Meta.
type SummaryResult struct {
	Summary        *string
	Method         SummarizationMethod
	KeyPointsCount int
	TokensSaved    int
}

var sentenceSplitter = regexp.MustCompile(`[.!?\n]`)

var assistantFillerPrefixes = []string{
	"let me", "i can help", "i'll help", "here's", "i understand",
	"of course", "certainly", "i'd be happy", "let's",
}

var assistantPriorityPatterns = []string{
	"the solution is", "i recommend", "the best approach", "you should",
	"the issue is", "the problem is", "i created", "i implemented",
	"i fixed", "i updated", "i added", "the key insight", "importantly",
	"critical", "essential", "the main",
}

var assistantFactualPatterns = []string{
	"this means", "which means", "because", "due to", "results in",
	"causes", "leads to",
}

var assistantTechnicalPatterns = []string{
	"function", "variable", "class", "method", "api", "endpoint",
	"database", "error", "exception", "configuration", "parameter",
}

var userRequestPatterns = []string{
	"can you", "could you", "please", "i need", "i want", "help me",
	"how do i", "how can i", "what is", "explain",
}

var userContextPatterns = []string{
	"i have", "i'm using", "my setup", "my system", "currently",
	"right now", "the requirement", "the constraint",
}

var suppressionPatterns = []string{
	"let me know", "if you need", "feel free", "hope this helps", "good luck",
}

// Summarize implements §4.3: summarize(messages) -> {summary, method,
// keyPointsCount, tokensSaved}.
func Summarize(msgs []message.Message) SummaryResult {
	var points []string
	seen := make(map[string]struct{})

	for _, m := range msgs {
		minLen := 15
		if m.Role == message.RoleAssistant {
			minLen = 20
		}
		for _, sentence := range splitSentences(m.Text()) {
			trimmed := strings.TrimSpace(sentence)
			if len(trimmed) < minLen {
				continue
			}
			point, ok := classifySentence(m.Role, trimmed)
			if !ok {
				continue
			}
			key := normalizeForDedup(point)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			points = append(points, point)
		}
	}

	points = lastN(points, 8)
	points = filterSignificant(points)
	points = lastN(points, 5)

	result := SummaryResult{Method: SummarizationHeuristic, KeyPointsCount: len(points)}
	if len(points) == 0 {
		return result
	}
	summary := "Previous context: " + strings.Join(points, "; ") + "."
	result.Summary = &summary
	result.TokensSaved = tokencount.Estimate(msgs) - tokencount.EstimateText(summary)
	if result.TokensSaved < 0 {
		result.TokensSaved = 0
	}
	return result
}

func splitSentences(text string) []string {
	return sentenceSplitter.Split(text, -1)
}

// classifySentence applies the role-specific pattern sets of §4.3 and
// returns the (possibly truncated) point text plus whether it should be
// kept at all.
func classifySentence(role message.Role, sentence string) (string, bool) {
	lower := strings.ToLower(sentence)

	if role == message.RoleAssistant {
		for _, p := range assistantFillerPrefixes {
			if strings.HasPrefix(lower, p) {
				return "", false
			}
		}
		if containsAny(lower, assistantPriorityPatterns) {
			return truncate(sentence, 120), true
		}
		if containsAny(lower, assistantFactualPatterns) {
			return truncate(sentence, 100), true
		}
		if containsAny(lower, assistantTechnicalPatterns) {
			return truncate(sentence, 100), true
		}
		return "", false
	}

	// user (and tool) messages
	if containsAny(lower, userRequestPatterns) {
		return truncate(sentence, 100), true
	}
	if containsAny(lower, userContextPatterns) {
		return truncate(sentence, 100), true
	}
	return "", false
}

func containsAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)
var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeForDedup(s string) string {
	lower := strings.ToLower(s)
	stripped := nonWordRe.ReplaceAllString(lower, "")
	collapsed := whitespaceRe.ReplaceAllString(stripped, " ")
	collapsed = strings.TrimSpace(collapsed)
	return truncate(collapsed, 50)
}

func filterSignificant(points []string) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		lower := strings.ToLower(p)
		if containsAny(lower, suppressionPatterns) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
