package abtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansantos/slimclaw/internal/tier"
)

func variants100(a, b int) []Variant {
	return []Variant{
		{ID: "a", Model: "model-a", Weight: a},
		{ID: "b", Model: "model-b", Weight: b},
	}
}

func TestNewExperimentRejectsBadWeightSum(t *testing.T) {
	_, err := NewExperiment("exp1", tier.Mid, variants100(40, 40), time.Unix(0, 0), 10)
	require.Error(t, err)
}

func TestNewExperimentAcceptsExactHundred(t *testing.T) {
	exp, err := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, exp.Status)
}

func TestAssignIsDeterministicForSameRunID(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 10)
	m.AddExperiment(exp)

	_, v1, ok1 := m.Assign(tier.Mid, "run-123")
	_, v2, ok2 := m.Assign(tier.Mid, "run-123")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, v1.ID, v2.ID)
}

func TestAssignRespectsWeightedDistribution(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(100, 0), time.Unix(0, 0), 10)
	m.AddExperiment(exp)

	for i := 0; i < 50; i++ {
		_, v, ok := m.Assign(tier.Mid, runIDFor(i))
		require.True(t, ok)
		assert.Equal(t, "a", v.ID)
	}
}

func TestAssignReturnsFalseWhenNoActiveExperimentForTier(t *testing.T) {
	m := New()
	_, _, ok := m.Assign(tier.Complex, "run-1")
	assert.False(t, ok)
}

func TestAssignIgnoresPausedExperiments(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 10)
	exp.Status = StatusPaused
	m.AddExperiment(exp)

	_, _, ok := m.Assign(tier.Mid, "run-1")
	assert.False(t, ok)
}

func TestRecordOutcomeUpdatesAggregatesAndClearsAssignment(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(100, 0), time.Unix(0, 0), 1)
	m.AddExperiment(exp)

	_, v, ok := m.Assign(tier.Mid, "run-1")
	require.True(t, ok)
	require.Equal(t, "a", v.ID)

	m.RecordOutcome("run-1", Outcome{LatencyMs: 100, Cost: 0.01, OutputTokens: 50})

	results := m.GetResults("exp1")
	require.Len(t, results.Variants, 2)
	for _, vr := range results.Variants {
		if vr.VariantID == "a" {
			assert.Equal(t, int64(1), vr.Count)
			assert.InDelta(t, 100.0, vr.AvgLatencyMs, 0.0001)
			assert.InDelta(t, 0.01, vr.AvgCost, 0.0001)
		}
	}

	// Assignment cleared: recording again for the same runId is a no-op.
	m.RecordOutcome("run-1", Outcome{LatencyMs: 999, Cost: 999, OutputTokens: 999})
	again := m.GetResults("exp1")
	for _, vr := range again.Variants {
		if vr.VariantID == "a" {
			assert.Equal(t, int64(1), vr.Count)
		}
	}
}

func TestRecordOutcomeUnknownRunIDIsNoop(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 1)
	m.AddExperiment(exp)
	m.RecordOutcome("never-assigned", Outcome{LatencyMs: 10, Cost: 0.1, OutputTokens: 5})
	results := m.GetResults("exp1")
	for _, vr := range results.Variants {
		assert.Equal(t, int64(0), vr.Count)
	}
}

func TestKahanCompensatedCostStaysAccurateOverManySmallIncrements(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(100, 0), time.Unix(0, 0), 1)
	m.AddExperiment(exp)

	const n = 100_000
	const perCost = 0.0000137
	for i := 0; i < n; i++ {
		runID := runIDFor(i)
		_, _, ok := m.Assign(tier.Mid, runID)
		require.True(t, ok)
		m.RecordOutcome(runID, Outcome{LatencyMs: 10, Cost: perCost, OutputTokens: 1})
	}

	want := perCost // running mean of n identical values is just the value
	results := m.GetResults("exp1")
	for _, vr := range results.Variants {
		if vr.VariantID == "a" {
			assert.Equal(t, int64(n), vr.Count)
			assert.InDelta(t, want, vr.AvgCost, want*0.0001)
		}
	}
}

func TestGetResultsEmptyDataIsNotSignificant(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 10)
	m.AddExperiment(exp)

	results := m.GetResults("exp1")
	assert.False(t, results.Significant)
	for _, vr := range results.Variants {
		assert.Equal(t, int64(0), vr.Count)
		assert.Equal(t, 0.0, vr.AvgCost)
	}
}

func TestGetResultsUnknownExperimentReturnsEmpty(t *testing.T) {
	m := New()
	results := m.GetResults("nope")
	assert.False(t, results.Significant)
	assert.Empty(t, results.Variants)
}

func TestGetResultsNotSignificantBelowMinSamples(t *testing.T) {
	m := New()
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 100)
	m.AddExperiment(exp)

	_, _, ok := m.Assign(tier.Mid, "run-1")
	require.True(t, ok)
	m.RecordOutcome("run-1", Outcome{LatencyMs: 10, Cost: 1.0, OutputTokens: 5})

	results := m.GetResults("exp1")
	assert.False(t, results.Significant)
}

func TestCleanupStaleAssignmentsDropsOldOnes(t *testing.T) {
	m := New()
	tick := int64(0)
	m.nowFn = func() int64 { return tick }
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 1)
	m.AddExperiment(exp)

	_, _, ok := m.Assign(tier.Mid, "run-1")
	require.True(t, ok)

	tick = 10_000
	m.CleanupStaleAssignments(5_000)

	// After cleanup, the run is no longer sticky: a fresh assign may pick
	// a different bucket than whatever state the prior assignment held.
	_, ok2 := m.assignments["run-1"]
	assert.False(t, ok2)
}

func TestEvictsOldestAssignmentsAtCapacity(t *testing.T) {
	m := New()
	m.maxPending = 10
	exp, _ := NewExperiment("exp1", tier.Mid, variants100(50, 50), time.Unix(0, 0), 1)
	m.AddExperiment(exp)

	for i := 0; i < 11; i++ {
		_, _, ok := m.Assign(tier.Mid, runIDFor(i))
		require.True(t, ok)
	}

	assert.LessOrEqual(t, len(m.order), 10)
	_, stillThere := m.assignments[runIDFor(0)]
	assert.False(t, stillThere)
}

func runIDFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for j := range b {
		b[j] = letters[(i*31+j*7)%len(letters)]
	}
	return "run-" + string(b)
}
