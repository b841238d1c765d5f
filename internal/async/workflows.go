package async

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const activityTimeout = 30 * time.Second

// RecordOutcomeWorkflow durably persists a single request's effect on the
// budget or A/B tracker. Dispatching through this workflow gives outcome
// recording Temporal's retry and replay guarantees instead of relying on a
// single in-process update that is lost on crash.
func RecordOutcomeWorkflow(ctx workflow.Context, input OutcomeRecord) (RecordOutcomeOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out RecordOutcomeOutput
	if err := workflow.ExecuteActivity(ctx, (*Activities).RecordOutcome, input).Get(ctx, &out); err != nil {
		return RecordOutcomeOutput{}, err
	}
	return out, nil
}
