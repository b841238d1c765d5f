// Package budget implements the Budget Tracker (§4.9): a per-scope
// sliding-window cost ceiling. Grounded on the teacher's apikey/budget.go
// cached-spend/mutex pattern, generalized from "per API key, monthly" to
// "per arbitrary scope string, sliding window".
package budget

import (
	"sync"
	"time"
)

// windowState is the sliding-window accumulator for one scope.
type windowState struct {
	mu               sync.Mutex
	windowStartMs    int64
	accumulatedCost  float64
}

// Tracker owns one windowState per scope, each independently lockable so
// concurrent requests against different scopes never contend.
type Tracker struct {
	mu     sync.Mutex
	scopes map[string]*windowState
	nowFn  func() int64
}

// New constructs a Tracker. nowFn defaults to the real wall clock in
// milliseconds; tests may override it for determinism.
func New() *Tracker {
	return &Tracker{
		scopes: make(map[string]*windowState),
		nowFn:  nowMs,
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// CheckResult is the outcome of Check.
type CheckResult struct {
	Allowed   bool
	Remaining float64
}

// Check implements §4.9 check(scope, windowMs, ceiling, proposedCost). If
// the current window has elapsed, it resets to a fresh window before
// evaluating. It does not record proposedCost; call Record after the
// actual cost is known.
func (t *Tracker) Check(scope string, windowMs int64, ceiling, proposedCost float64) CheckResult {
	state := t.stateFor(scope)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := t.nowFn()
	if state.windowStartMs == 0 || now-state.windowStartMs >= windowMs {
		state.windowStartMs = now
		state.accumulatedCost = 0
	}

	allowed := state.accumulatedCost+proposedCost <= ceiling
	remaining := ceiling - state.accumulatedCost
	if remaining < 0 {
		remaining = 0
	}
	return CheckResult{Allowed: allowed, Remaining: remaining}
}

// Record implements §4.9 record(scope, actualCost): add to the scope's
// accumulated cost. It does not re-check the window boundary; a Check call
// naturally precedes it within the same request. A scope with no window
// yet starts one at the current time.
func (t *Tracker) Record(scope string, actualCost float64) {
	state := t.stateFor(scope)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.windowStartMs == 0 {
		state.windowStartMs = t.nowFn()
	}
	state.accumulatedCost += actualCost
}

// Snapshot returns the current accumulated cost and window start for a
// scope, for status reporting and restart-continuity persistence. It does
// not mutate state.
func (t *Tracker) Snapshot(scope string) (accumulatedCost float64, windowStartMs int64) {
	state := t.stateFor(scope)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.accumulatedCost, state.windowStartMs
}

// Restore seeds a scope's state, used at startup to rehydrate from
// internal/store persistence (§5: budget state outlives individual
// requests; its teardown/restore is the host's responsibility).
func (t *Tracker) Restore(scope string, accumulatedCost float64, windowStartMs int64) {
	state := t.stateFor(scope)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.accumulatedCost = accumulatedCost
	state.windowStartMs = windowStartMs
}

func (t *Tracker) stateFor(scope string) *windowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scopes[scope]
	if !ok {
		s = &windowState{}
		t.scopes[scope] = s
	}
	return s
}
