// Package abtest implements the A/B Test Manager (§4.10): deterministic
// per-runId variant assignment with Kahan-compensated cost aggregation.
// Grounded on the teacher's internal/router/thompson.go for its per-arm
// map-plus-mutex texture and deterministic-result style; the selection
// algorithm itself (weighted bucket walk over a portable hash) is spec-
// mandated, not reused from Thompson/Beta sampling, since §4.10 calls for
// a deterministic assignment rather than online probabilistic learning.
package abtest

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const defaultMaxPendingAssignments = 10_000

// Outcome is what recordOutcome attaches to a completed assignment.
type Outcome struct {
	LatencyMs    float64
	Cost         float64
	OutputTokens int
}

// kahanSum is a compensated (Kahan) running sum, used so cost
// aggregation does not drift across thousands of small increments (§9:
// "averages must not drift ... per-variant mean within 0.01% of the
// analytic expectation").
type kahanSum struct {
	sum, c float64
}

func (k *kahanSum) add(x float64) {
	y := x - k.c
	t := k.sum + y
	k.c = (t - k.sum) - y
	k.sum = t
}

type variantAggregate struct {
	count           int64
	costKahan       kahanSum
	avgLatencyMs    float64
	avgOutputTokens float64
}

func (a *variantAggregate) record(o Outcome) {
	a.count++
	n := float64(a.count)
	a.avgLatencyMs += (o.LatencyMs - a.avgLatencyMs) / n
	a.avgOutputTokens += (float64(o.OutputTokens) - a.avgOutputTokens) / n
	a.costKahan.add(o.Cost)
}

func (a *variantAggregate) avgCost() float64 {
	if a.count == 0 {
		return 0
	}
	return a.costKahan.sum / float64(a.count)
}

type pendingAssignment struct {
	runID       string
	assignment  Assignment
	insertOrder int64
}

// Manager owns the set of experiments and in-flight runId assignments.
// Every mutation is serialized under a single mutex keyed implicitly by
// the Manager instance — assignments/aggregates are small maps, not a
// source of meaningful per-key contention at the request rates this
// pipeline targets.
type Manager struct {
	mu            sync.Mutex
	experiments   map[string]*Experiment
	assignments   map[string]pendingAssignment // runId -> assignment
	order         []string                     // FIFO eviction order of runIds
	insertCounter int64
	aggregates    map[string]*variantAggregate // experimentID+"/"+variantID -> aggregate
	maxPending    int
	nowFn         func() int64
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		experiments: make(map[string]*Experiment),
		assignments: make(map[string]pendingAssignment),
		aggregates:  make(map[string]*variantAggregate),
		maxPending:  defaultMaxPendingAssignments,
		nowFn:       func() int64 { return time.Now().UnixMilli() },
	}
}

// AddExperiment registers an already-validated experiment.
func (m *Manager) AddExperiment(e *Experiment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[e.ID] = e
}

// Assign implements §4.10 assign(tier, runId). It is idempotent: the same
// runId always returns the same variant until RecordOutcome clears it.
func (m *Manager) Assign(t interface{ String() string }, runID string) (*Experiment, *Variant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.assignments[runID]; ok {
		exp, variant := m.lookupAssignment(existing.assignment)
		if exp != nil {
			return exp, variant, true
		}
	}

	candidates := m.activeExperimentsForTier(t)
	if len(candidates) == 0 {
		return nil, nil, false
	}
	// Deterministic selection: most recently started active experiment.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StartedAt.After(candidates[j].StartedAt)
	})
	exp := candidates[0]

	bucket := hashBucket(runID)
	variant := pickVariant(exp.Variants, bucket)
	if variant == nil {
		return nil, nil, false
	}

	m.insertCounter++
	m.assignments[runID] = pendingAssignment{
		runID: runID,
		assignment: Assignment{
			ExperimentID: exp.ID,
			VariantID:    variant.ID,
			TimestampMs:  m.nowFn(),
		},
		insertOrder: m.insertCounter,
	}
	m.order = append(m.order, runID)
	m.evictIfOverCapacityLocked()

	return exp, variant, true
}

// RecordOutcome implements §4.10 recordOutcome: updates the assigned
// variant's running aggregates, then deletes the pending assignment.
// Unknown runId is a no-op.
func (m *Manager) RecordOutcome(runID string, o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, ok := m.assignments[runID]
	if !ok {
		return
	}
	key := aggregateKey(pending.assignment.ExperimentID, pending.assignment.VariantID)
	agg, ok := m.aggregates[key]
	if !ok {
		agg = &variantAggregate{}
		m.aggregates[key] = agg
	}
	agg.record(o)
	delete(m.assignments, runID)
	m.removeFromOrderLocked(runID)
}

// CleanupStaleAssignments drops assignments older than ttlMs.
func (m *Manager) CleanupStaleAssignments(ttlMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	var kept []string
	for _, runID := range m.order {
		a, ok := m.assignments[runID]
		if !ok {
			continue
		}
		if now-a.assignment.TimestampMs > ttlMs {
			delete(m.assignments, runID)
			continue
		}
		kept = append(kept, runID)
	}
	m.order = kept
}

// GetResults implements §4.10 getResults.
func (m *Manager) GetResults(experimentID string) Results {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[experimentID]
	if !ok {
		return Results{}
	}

	results := Results{Variants: make([]VariantResult, 0, len(exp.Variants))}
	allMeetMinSamples := true
	for _, v := range exp.Variants {
		agg, ok := m.aggregates[aggregateKey(experimentID, v.ID)]
		if !ok {
			allMeetMinSamples = false
			results.Variants = append(results.Variants, VariantResult{VariantID: v.ID})
			continue
		}
		if agg.count < int64(exp.MinSamples) {
			allMeetMinSamples = false
		}
		results.Variants = append(results.Variants, VariantResult{
			VariantID:       v.ID,
			Count:           agg.count,
			AvgLatencyMs:    agg.avgLatencyMs,
			AvgCost:         agg.avgCost(),
			AvgOutputTokens: agg.avgOutputTokens,
		})
	}

	if len(results.Variants) == 0 {
		return Results{Significant: false}
	}
	results.Significant = allMeetMinSamples && meansDiffer(results.Variants)
	return results
}

// meansDiffer is the "simple two-sample test" §4.10 leaves unprescribed:
// significance requires the best and worst average cost to differ by more
// than a fixed practical threshold.
func meansDiffer(variants []VariantResult) bool {
	if len(variants) < 2 {
		return false
	}
	min, max := variants[0].AvgCost, variants[0].AvgCost
	for _, v := range variants[1:] {
		if v.AvgCost < min {
			min = v.AvgCost
		}
		if v.AvgCost > max {
			max = v.AvgCost
		}
	}
	const significanceThreshold = 0.0001
	return max-min > significanceThreshold
}

func (m *Manager) lookupAssignment(a Assignment) (*Experiment, *Variant) {
	exp, ok := m.experiments[a.ExperimentID]
	if !ok {
		return nil, nil
	}
	for i := range exp.Variants {
		if exp.Variants[i].ID == a.VariantID {
			return exp, &exp.Variants[i]
		}
	}
	return nil, nil
}

func (m *Manager) activeExperimentsForTier(t interface{ String() string }) []*Experiment {
	var out []*Experiment
	for _, e := range m.experiments {
		if e.Status == StatusActive && e.Tier.String() == t.String() {
			out = append(out, e)
		}
	}
	return out
}

func (m *Manager) evictIfOverCapacityLocked() {
	if len(m.order) <= m.maxPending {
		return
	}
	target := int(float64(m.maxPending) * 0.8)
	evict := len(m.order) - target
	for i := 0; i < evict; i++ {
		delete(m.assignments, m.order[i])
	}
	m.order = m.order[evict:]
}

func (m *Manager) removeFromOrderLocked(runID string) {
	for i, id := range m.order {
		if id == runID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func aggregateKey(experimentID, variantID string) string {
	return experimentID + "/" + variantID
}

// pickVariant walks variants by cumulative weight and returns the one
// whose range contains bucket.
func pickVariant(variants []Variant, bucket int) *Variant {
	cumulative := 0
	for i := range variants {
		cumulative += variants[i].Weight
		if bucket < cumulative {
			return &variants[i]
		}
	}
	if len(variants) == 0 {
		return nil
	}
	return &variants[len(variants)-1]
}

// hashBucket deterministically hashes runID to a bucket in [0, 100). It
// uses FNV-1a, a fixed, portable, non-cryptographic hash with an
// identical result across processes, platforms, and Go versions — unlike
// a language runtime's built-in map/string hash, which may be randomized
// per-process.
func hashBucket(runID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return int(h.Sum32() % 100)
}
