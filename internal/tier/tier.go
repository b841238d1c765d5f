// Package tier defines ComplexityTier as a closed sum type shared by the
// classifier, router, and A/B test manager, replacing the stringly-typed
// tier labels the source this system generalizes from used internally.
package tier

import "fmt"

// Tier is a coarse classification bucket ordered by expected
// reasoning/complexity need: Simple < Mid < Complex < Reasoning.
type Tier int

const (
	Simple Tier = iota
	Mid
	Complex
	Reasoning
)

// All lists every tier in ascending order.
var All = []Tier{Simple, Mid, Complex, Reasoning}

func (t Tier) String() string {
	switch t {
	case Simple:
		return "simple"
	case Mid:
		return "mid"
	case Complex:
		return "complex"
	case Reasoning:
		return "reasoning"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Parse converts a wire-format tier name to a Tier. Unknown names return
// (0, false); callers must check ok rather than trust the zero value.
func Parse(s string) (Tier, bool) {
	for _, t := range All {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Less reports whether t represents lower expected complexity than other.
func (t Tier) Less(other Tier) bool { return t < other }
