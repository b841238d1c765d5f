package async

import (
	"context"
	"fmt"

	"github.com/evansantos/slimclaw/internal/abtest"
	"github.com/evansantos/slimclaw/internal/budget"
)

// Activities holds the in-memory trackers an outcome record updates.
type Activities struct {
	Budget *budget.Tracker
	AB     *abtest.Manager
}

// RecordOutcome applies a single outcome to whichever tracker it belongs to.
// It is registered as a Temporal activity and also callable directly as the
// synchronous fallback when the circuit breaker is open.
func (a *Activities) RecordOutcome(ctx context.Context, input OutcomeRecord) (RecordOutcomeOutput, error) {
	switch input.Kind {
	case OutcomeKindBudget:
		if a.Budget == nil {
			return RecordOutcomeOutput{}, fmt.Errorf("async: no budget tracker configured")
		}
		a.Budget.Record(input.BudgetScope, input.Cost)

	case OutcomeKindABTest:
		if a.AB == nil {
			return RecordOutcomeOutput{}, fmt.Errorf("async: no A/B manager configured")
		}
		a.AB.RecordOutcome(input.RunID, abtest.Outcome{
			LatencyMs:    input.LatencyMs,
			Cost:         input.Cost,
			OutputTokens: input.OutputTokens,
		})

	default:
		return RecordOutcomeOutput{}, fmt.Errorf("async: unknown outcome kind %q", input.Kind)
	}

	return RecordOutcomeOutput{Persisted: true}, nil
}
