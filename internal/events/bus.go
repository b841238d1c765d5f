package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of pipeline lifecycle event.
type EventType string

const (
	EventRoutingDecided    EventType = "routing_decided"
	EventBudgetRefused     EventType = "budget_refused"
	EventABAssigned        EventType = "ab_assigned"
	EventWorkflowStarted   EventType = "workflow_started"
	EventActivityCompleted EventType = "activity_completed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
)

// Event is a single pipeline lifecycle event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Routing fields (populated for routing_decided/budget_refused).
	OriginalModel string  `json:"original_model,omitempty"`
	TargetModel   string  `json:"target_model,omitempty"`
	ProviderID    string  `json:"provider_id,omitempty"`
	Tier          string  `json:"tier,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	LatencyMs     float64 `json:"latency_ms,omitempty"`
	CostUSD       float64 `json:"cost_usd,omitempty"`

	// Budget fields (populated for budget_refused).
	BudgetScope string `json:"budget_scope,omitempty"`

	// A/B fields (populated for ab_assigned).
	ExperimentID string `json:"experiment_id,omitempty"`
	VariantID    string `json:"variant_id,omitempty"`

	// Workflow fields (populated for async outcome-recording events).
	WorkflowID   string  `json:"workflow_id,omitempty"`
	WorkflowType string  `json:"workflow_type,omitempty"`
	RequestID    string  `json:"request_id,omitempty"`
	Activity     string  `json:"activity,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus for routing events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its done channel. C is not
// closed; it simply receives no further events.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
