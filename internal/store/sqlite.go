package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle (used by TSDB).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			variants TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'active',
			started_at TEXT NOT NULL,
			min_samples INTEGER NOT NULL DEFAULT 30
		)`,
		`CREATE TABLE IF NOT EXISTS variant_outcomes (
			experiment_id TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			avg_latency_ms REAL NOT NULL DEFAULT 0,
			avg_cost REAL NOT NULL DEFAULT 0,
			avg_output_tokens REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (experiment_id, variant_id)
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			run_id TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS budget_snapshots (
			scope TEXT PRIMARY KEY,
			accumulated_cost REAL NOT NULL DEFAULT 0,
			window_start_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS provider_refs (
			provider TEXT PRIMARY KEY,
			base_url TEXT NOT NULL DEFAULT '',
			cred_store TEXT NOT NULL DEFAULT 'vault',
			enabled BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			original_model TEXT NOT NULL DEFAULT '',
			target_model TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT '',
			cost_usd REAL NOT NULL DEFAULT 0,
			tokens_saved INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 200,
			error_class TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Experiments

func (s *SQLiteStore) SaveExperiment(ctx context.Context, e ExperimentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, tier, variants, status, started_at, min_samples)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   tier=excluded.tier,
		   variants=excluded.variants,
		   status=excluded.status,
		   started_at=excluded.started_at,
		   min_samples=excluded.min_samples`,
		e.ID, e.Tier, e.Variants, e.Status, e.StartedAt.UTC().Format(time.RFC3339), e.MinSamples)
	return err
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tier, variants, status, started_at, min_samples FROM experiments`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ExperimentRecord
	for rows.Next() {
		var e ExperimentRecord
		var startedAt string
		if err := rows.Scan(&e.ID, &e.Tier, &e.Variants, &e.Status, &startedAt, &e.MinSamples); err != nil {
			return nil, err
		}
		e.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error) {
	var e ExperimentRecord
	var startedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tier, variants, status, started_at, min_samples FROM experiments WHERE id = ?`, id).
		Scan(&e.ID, &e.Tier, &e.Variants, &e.Status, &startedAt, &e.MinSamples)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	return &e, nil
}

// Variant outcomes

func (s *SQLiteStore) SaveVariantOutcome(ctx context.Context, v VariantOutcomeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO variant_outcomes (experiment_id, variant_id, count, avg_latency_ms, avg_cost, avg_output_tokens, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(experiment_id, variant_id) DO UPDATE SET
		   count=excluded.count,
		   avg_latency_ms=excluded.avg_latency_ms,
		   avg_cost=excluded.avg_cost,
		   avg_output_tokens=excluded.avg_output_tokens,
		   updated_at=excluded.updated_at`,
		v.ExperimentID, v.VariantID, v.Count, v.AvgLatencyMs, v.AvgCost, v.AvgOutputTokens,
		v.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) ListVariantOutcomes(ctx context.Context, experimentID string) ([]VariantOutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, variant_id, count, avg_latency_ms, avg_cost, avg_output_tokens, updated_at
		 FROM variant_outcomes WHERE experiment_id = ?`, experimentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []VariantOutcomeRecord
	for rows.Next() {
		var v VariantOutcomeRecord
		var updatedAt string
		if err := rows.Scan(&v.ExperimentID, &v.VariantID, &v.Count, &v.AvgLatencyMs, &v.AvgCost, &v.AvgOutputTokens, &updatedAt); err != nil {
			return nil, err
		}
		v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Assignments

func (s *SQLiteStore) SaveAssignment(ctx context.Context, a AssignmentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (run_id, experiment_id, variant_id, timestamp_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   experiment_id=excluded.experiment_id,
		   variant_id=excluded.variant_id,
		   timestamp_ms=excluded.timestamp_ms`,
		a.RunID, a.ExperimentID, a.VariantID, a.TimestampMs)
	return err
}

func (s *SQLiteStore) DeleteAssignment(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE run_id = ?`, runID)
	return err
}

func (s *SQLiteStore) ListAssignments(ctx context.Context) ([]AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, experiment_id, variant_id, timestamp_ms FROM assignments`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AssignmentRecord
	for rows.Next() {
		var a AssignmentRecord
		if err := rows.Scan(&a.RunID, &a.ExperimentID, &a.VariantID, &a.TimestampMs); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Budget snapshots

func (s *SQLiteStore) SaveBudgetSnapshot(ctx context.Context, snap BudgetSnapshotRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_snapshots (scope, accumulated_cost, window_start_ms)
		 VALUES (?, ?, ?)
		 ON CONFLICT(scope) DO UPDATE SET
		   accumulated_cost=excluded.accumulated_cost,
		   window_start_ms=excluded.window_start_ms`,
		snap.Scope, snap.AccumulatedCost, snap.WindowStartMs)
	return err
}

func (s *SQLiteStore) LoadBudgetSnapshot(ctx context.Context, scope string) (*BudgetSnapshotRecord, error) {
	var snap BudgetSnapshotRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT scope, accumulated_cost, window_start_ms FROM budget_snapshots WHERE scope = ?`, scope).
		Scan(&snap.Scope, &snap.AccumulatedCost, &snap.WindowStartMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) ListBudgetSnapshots(ctx context.Context) ([]BudgetSnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope, accumulated_cost, window_start_ms FROM budget_snapshots`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []BudgetSnapshotRecord
	for rows.Next() {
		var snap BudgetSnapshotRecord
		if err := rows.Scan(&snap.Scope, &snap.AccumulatedCost, &snap.WindowStartMs); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Provider references

func (s *SQLiteStore) UpsertProviderRef(ctx context.Context, p ProviderRef) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_refs (provider, base_url, cred_store, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET
		   base_url=excluded.base_url,
		   cred_store=excluded.cred_store,
		   enabled=excluded.enabled`,
		p.Provider, p.BaseURL, p.CredStore, p.Enabled)
	return err
}

func (s *SQLiteStore) ListProviderRefs(ctx context.Context) ([]ProviderRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, base_url, cred_store, enabled FROM provider_refs`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProviderRef
	for rows.Next() {
		var p ProviderRef
		if err := rows.Scan(&p.Provider, &p.BaseURL, &p.CredStore, &p.Enabled); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteProviderRef(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_refs WHERE provider = ?`, provider)
	return err
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

// Request logs

func (s *SQLiteStore) LogRequest(ctx context.Context, entry RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (timestamp, original_model, target_model, provider_id, tier, mode,
		 cost_usd, tokens_saved, latency_ms, status_code, error_class, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.OriginalModel, entry.TargetModel, entry.ProviderID, entry.Tier, entry.Mode,
		entry.CostUSD, entry.TokensSaved, entry.LatencyMs, entry.StatusCode, entry.ErrorClass, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, original_model, target_model, provider_id, tier, mode,
		 cost_usd, tokens_saved, latency_ms, status_code, error_class, request_id
		 FROM request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []RequestLog
	for rows.Next() {
		var l RequestLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.OriginalModel, &l.TargetModel, &l.ProviderID, &l.Tier, &l.Mode,
			&l.CostUSD, &l.TokensSaved, &l.LatencyMs, &l.StatusCode, &l.ErrorClass, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) StatusSummary(ctx context.Context, since time.Time) (StatusSummary, error) {
	var summary StatusSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		 COALESCE(SUM(cost_usd), 0),
		 COALESCE(SUM(tokens_saved), 0),
		 COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
		 COALESCE(AVG(latency_ms), 0)
		 FROM request_logs WHERE timestamp >= ?`, since.UTC()).
		Scan(&summary.TotalRequests, &summary.TotalCostUSD, &summary.TokensSaved, &summary.ErrorCount, &summary.AvgLatencyMs)
	if err != nil {
		return StatusSummary{}, err
	}
	return summary, nil
}

// Audit logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Retention

func (s *SQLiteStore) PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
