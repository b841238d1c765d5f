package classifier

import "github.com/evansantos/slimclaw/internal/tier"

// keyword pairs a phrase (matched as a case-insensitive substring) with its
// contribution to a tier's raw score.
type keyword struct {
	phrase string
	weight float64
}

// keywordTable maps each tier to its ordered keyword list. Order matters
// only for signal-emission determinism, not for scoring (scores sum
// independently of match order).
var keywordTable = map[tier.Tier][]keyword{
	tier.Simple: {
		{"hello", 0.6}, {"hi", 0.5}, {"hey", 0.5}, {"thanks", 0.6},
		{"thank you", 0.6}, {"ok", 0.5}, {"okay", 0.5}, {"yes", 0.5},
		{"no thanks", 0.5}, {"sure", 0.6}, {"great", 0.6}, {"got it", 0.7},
		{"sounds good", 0.7}, {"just wanted to say", 0.6},
	},
	tier.Mid: {
		{"explain", 0.8}, {"summarize", 0.9}, {"summary", 0.8},
		{"what is", 0.7}, {"how does", 0.8}, {"difference between", 1.0},
		{"compare", 0.9}, {"comparison", 0.9}, {"function", 0.6},
		{"variable", 0.6}, {"loop", 0.7}, {"array", 0.6}, {"basic", 0.7},
		{"simple example", 0.8}, {"overview", 0.8}, {"walk me through", 0.9},
	},
	tier.Complex: {
		{"architecture", 1.1}, {"design pattern", 1.0}, {"debug", 1.0},
		{"debugging", 1.0}, {"error", 0.8}, {"exception", 0.8},
		{"optimize", 1.0}, {"optimization", 1.0}, {"performance", 0.9},
		{"implement", 0.9}, {"implementation", 0.9}, {"refactor", 1.0},
		{"refactoring", 1.0}, {"multi-step", 1.1}, {"security", 1.2},
		{"vulnerability", 1.2}, {"concurrency", 1.1}, {"race condition", 1.2},
		{"scalability", 1.0},
	},
	tier.Reasoning: {
		{"prove", 1.4}, {"proof", 1.4}, {"theorem", 1.3},
		{"proof by contradiction", 1.5}, {"strategy", 1.0}, {"strategic", 1.0},
		{"ethics", 1.1}, {"ethical", 1.1}, {"analyze", 1.0}, {"analysis", 1.0},
		{"research", 1.0}, {"logic", 1.1}, {"logical", 1.0},
		{"consequence", 0.9}, {"implications", 0.9}, {"trade-off", 1.0},
		{"tradeoffs", 1.0},
	},
}
