package store

import (
	"context"
	"time"
)

// Store defines the durable persistence interface for slimclaw: everything
// that must survive a process restart but isn't itself a secret (secrets
// live in the vault's encrypted blob, persisted here only as opaque bytes).
type Store interface {
	// A/B experiment configuration and aggregate snapshots.
	SaveExperiment(ctx context.Context, e ExperimentRecord) error
	ListExperiments(ctx context.Context) ([]ExperimentRecord, error)
	GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error)

	SaveVariantOutcome(ctx context.Context, v VariantOutcomeRecord) error
	ListVariantOutcomes(ctx context.Context, experimentID string) ([]VariantOutcomeRecord, error)

	// Sticky runId -> variant assignments, persisted so a restart doesn't
	// reshuffle in-flight A/B buckets before CleanupStaleAssignments would
	// have dropped them anyway.
	SaveAssignment(ctx context.Context, a AssignmentRecord) error
	DeleteAssignment(ctx context.Context, runID string) error
	ListAssignments(ctx context.Context) ([]AssignmentRecord, error)

	// Budget scope snapshots, for restart continuity of the sliding window.
	SaveBudgetSnapshot(ctx context.Context, s BudgetSnapshotRecord) error
	LoadBudgetSnapshot(ctx context.Context, scope string) (*BudgetSnapshotRecord, error)
	ListBudgetSnapshots(ctx context.Context) ([]BudgetSnapshotRecord, error)

	// Provider credential references. Opaque: base URL and which backing
	// store (vault/env) holds the actual key, never the key itself.
	UpsertProviderRef(ctx context.Context, p ProviderRef) error
	ListProviderRefs(ctx context.Context) ([]ProviderRef, error)
	DeleteProviderRef(ctx context.Context, provider string) error

	// Vault persistence: the encrypted blob backing internal/vault.
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)

	// Request log backing the CLI status aggregation surface.
	LogRequest(ctx context.Context, entry RequestLog) error
	ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error)
	StatusSummary(ctx context.Context, since time.Time) (StatusSummary, error)

	// Audit logging for admin mutations made via slimclawctl.
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// Log retention.
	PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error)

	// Schema lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// ExperimentRecord is the persisted form of an A/B experiment. Variants is
// the JSON encoding of []abtest.Variant, kept as opaque text here the same
// way the teacher stores API key scopes as a JSON text column — store
// doesn't need to import the abtest package to round-trip it.
type ExperimentRecord struct {
	ID         string    `json:"id"`
	Tier       string    `json:"tier"`
	Variants   string    `json:"variants"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	MinSamples int       `json:"min_samples"`
}

// VariantOutcomeRecord is a periodic snapshot of one variant's running
// aggregates, so GetResults has something to rehydrate from after restart.
type VariantOutcomeRecord struct {
	ExperimentID    string  `json:"experiment_id"`
	VariantID       string  `json:"variant_id"`
	Count           int64   `json:"count"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	AvgCost         float64 `json:"avg_cost"`
	AvgOutputTokens float64 `json:"avg_output_tokens"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AssignmentRecord is a persisted sticky runId -> variant binding.
type AssignmentRecord struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	TimestampMs  int64  `json:"timestamp_ms"`
}

// BudgetSnapshotRecord is a persisted sliding-window budget state for one scope.
type BudgetSnapshotRecord struct {
	Scope           string  `json:"scope"`
	AccumulatedCost float64 `json:"accumulated_cost"`
	WindowStartMs   int64   `json:"window_start_ms"`
}

// ProviderRef is an opaque pointer to where a provider's real credentials
// live; it never carries the API key itself.
type ProviderRef struct {
	Provider  string `json:"provider"`
	BaseURL   string `json:"base_url"`
	CredStore string `json:"cred_store"` // "vault" or "env"
	Enabled   bool   `json:"enabled"`
}

// AuditEntry captures an admin mutation made via slimclawctl for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`              // e.g. "experiment.create", "vault.rotate"
	Resource  string    `json:"resource"`             // e.g. experiment ID, provider name
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}

// RequestLog captures a single optimized request for the CLI status surface.
type RequestLog struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	OriginalModel string    `json:"original_model"`
	TargetModel   string    `json:"target_model"`
	ProviderID    string    `json:"provider_id"`
	Tier          string    `json:"tier"`
	Mode          string    `json:"mode"` // routed, shadow, disabled
	CostUSD       float64   `json:"cost_usd"`
	TokensSaved   int       `json:"tokens_saved"`
	LatencyMs     int64     `json:"latency_ms"`
	StatusCode    int       `json:"status_code"`
	ErrorClass    string    `json:"error_class,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
}

// StatusSummary aggregates request logs for the `/slimclaw` CLI status command.
type StatusSummary struct {
	TotalRequests int64   `json:"total_requests"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	TokensSaved   int64   `json:"tokens_saved"`
	ErrorCount    int64   `json:"error_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}
