package classifier

import "github.com/evansantos/slimclaw/internal/tier"

// Result is the output of Classify: an immutable classification record.
type Result struct {
	Tier       tier.Tier
	Confidence float64
	Reason     string
	Scores     map[tier.Tier]float64
	Signals    []string
}
