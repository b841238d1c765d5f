package abtest

import (
	"fmt"
	"time"

	"github.com/evansantos/slimclaw/internal/tier"
)

// Status is a closed enum for experiment lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Variant is one arm of an experiment: a candidate model with a traffic
// weight in [0, 100].
type Variant struct {
	ID     string
	Model  string
	Weight int
}

// Experiment groups variants competing for a single tier's traffic.
// Construction validates that variant weights sum to exactly 100 — a
// configuration error per §7, surfaced at construction, never silently
// tolerated.
type Experiment struct {
	ID         string
	Tier       tier.Tier
	Variants   []Variant
	Status     Status
	StartedAt  time.Time
	MinSamples int
}

// NewExperiment validates and constructs an Experiment. Per §3 invariant 4
// and §4.10, variant weights must sum to exactly 100.
func NewExperiment(id string, t tier.Tier, variants []Variant, startedAt time.Time, minSamples int) (*Experiment, error) {
	sum := 0
	for _, v := range variants {
		sum += v.Weight
	}
	if sum != 100 {
		return nil, fmt.Errorf("abtest: experiment %q variant weights sum to %d, want 100", id, sum)
	}
	return &Experiment{
		ID:         id,
		Tier:       t,
		Variants:   variants,
		Status:     StatusActive,
		StartedAt:  startedAt,
		MinSamples: minSamples,
	}, nil
}

// Assignment is a sticky runId -> variant binding.
type Assignment struct {
	ExperimentID string
	VariantID    string
	TimestampMs  int64
}

// VariantResult is one variant's aggregate outcome, as returned by
// GetResults.
type VariantResult struct {
	VariantID       string
	Count           int64
	AvgLatencyMs    float64
	AvgCost         float64
	AvgOutputTokens float64
}

// Results is the output of GetResults.
type Results struct {
	Variants    []VariantResult
	Significant bool
}
