package async

// OutcomeKind distinguishes which tracker a recorded outcome updates.
type OutcomeKind string

const (
	OutcomeKindBudget OutcomeKind = "budget"
	OutcomeKindABTest OutcomeKind = "abtest"
)

// OutcomeRecord is the input to RecordOutcomeWorkflow: everything needed to
// durably persist one request's effect on the budget or A/B tracker,
// independent of which kind of record it is.
type OutcomeRecord struct {
	Kind OutcomeKind

	// Budget fields (Kind == OutcomeKindBudget).
	BudgetScope string
	Cost        float64

	// A/B fields (Kind == OutcomeKindABTest).
	RunID        string
	ExperimentID string
	VariantID    string
	LatencyMs    float64
	OutputTokens int

	TimestampMs int64
}

// RecordOutcomeOutput confirms persistence.
type RecordOutcomeOutput struct {
	Persisted bool
}
