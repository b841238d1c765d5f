package async

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/evansantos/slimclaw/internal/circuitbreaker"
	"github.com/evansantos/slimclaw/internal/metrics"
)

// Config holds Temporal connection settings.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Manager owns the Temporal client and worker lifecycle.
type Manager struct {
	client client.Client
	worker worker.Worker
	cfg    Config
}

// New creates a Temporal client and worker, registering RecordOutcomeWorkflow
// and its backing activity.
func New(cfg Config, acts *Activities) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client dial: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(RecordOutcomeWorkflow)
	w.RegisterActivity(acts.RecordOutcome)

	return &Manager{
		client: c,
		worker: w,
		cfg:    cfg,
	}, nil
}

// Start begins the worker polling for tasks.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// Client returns the Temporal client for starting workflows.
func (m *Manager) Client() client.Client {
	return m.client
}

// TaskQueue returns the configured task queue name.
func (m *Manager) TaskQueue() string {
	return m.cfg.TaskQueue
}

// Stop gracefully stops the worker and closes the client.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}

// Recorder dispatches outcome records through RecordOutcomeWorkflow while the
// circuit breaker is closed, and falls back to calling Activities.RecordOutcome
// directly in-process when Temporal is unreachable, per §4.15's durability
// fallback requirement.
type Recorder struct {
	manager  *Manager
	breaker  *circuitbreaker.Breaker
	fallback *Activities
	metrics  *metrics.Registry
}

// NewRecorder wires a Recorder. metricsReg may be nil.
func NewRecorder(manager *Manager, breaker *circuitbreaker.Breaker, fallback *Activities, metricsReg *metrics.Registry) *Recorder {
	return &Recorder{
		manager:  manager,
		breaker:  breaker,
		fallback: fallback,
		metrics:  metricsReg,
	}
}

// Record persists an outcome, preferring the durable workflow and falling
// back to a synchronous in-process update when the breaker is open or the
// workflow dispatch itself fails.
func (r *Recorder) Record(ctx context.Context, outcome OutcomeRecord) error {
	r.reportState()

	if r.manager != nil && r.breaker.Allow() {
		_, err := r.manager.Client().ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        "record-outcome-" + uuid.NewString(),
			TaskQueue: r.manager.TaskQueue(),
		}, RecordOutcomeWorkflow, outcome)
		if err == nil {
			r.breaker.RecordSuccess()
			return nil
		}
		r.breaker.RecordFailure()
	}

	if r.metrics != nil {
		r.metrics.TemporalFallbackTotal.Inc()
	}
	_, err := r.fallback.RecordOutcome(ctx, outcome)
	return err
}

func (r *Recorder) reportState() {
	if r.metrics == nil {
		return
	}
	switch r.breaker.CurrentState() {
	case circuitbreaker.Closed:
		r.metrics.TemporalCircuitState.Set(0)
	case circuitbreaker.Open:
		r.metrics.TemporalCircuitState.Set(1)
	case circuitbreaker.HalfOpen:
		r.metrics.TemporalCircuitState.Set(2)
	}
}
