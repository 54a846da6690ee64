// Package events fans live orchestration events out to subscribers
// (SSE connections, webhook dispatcher, tests). Subscription lifecycle
// is explicit: Subscribe hands back an unsubscribe func that must be
// called when the consumer goes away, and the broker never writes to a
// channel after it has been removed.
package events

import (
	"sync"

	"github.com/google/uuid"

	"hireline/internal/domain"
)

// Event names on the wire.
const (
	EventStep          = "step"
	EventPayment       = "payment"
	EventDelegatedHire = "delegated-hire"
	EventDone          = "done"
	EventError         = "error"
)

// StepEvent reports one finished plan step.
type StepEvent struct {
	TaskID       string `json:"task_id"`
	CapabilityID string `json:"capability_id"`
	WorkerID     string `json:"worker_id,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// PaymentEvent reports a settled payment at depth 0.
type PaymentEvent struct {
	Settlement domain.SettlementRecord `json:"settlement"`
}

// DelegatedHireEvent reports a settlement made by a worker acting as a
// hirer on behalf of the task.
type DelegatedHireEvent struct {
	Settlement domain.SettlementRecord `json:"settlement"`
}

// DoneEvent reports a finished task.
type DoneEvent struct {
	TaskID         string  `json:"task_id"`
	Answer         string  `json:"answer"`
	CumulativeCost float64 `json:"cumulative_cost"`
	MaxDepth       int     `json:"max_depth"`
}

// ErrorEvent reports a task-level failure.
type ErrorEvent struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// Event pairs a wire name with its payload.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

const defaultBuffer = 64

// Broker is an in-process pub-sub hub.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]chan Event
	buffer int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]chan Event), buffer: defaultBuffer}
}

// Subscribe registers a consumer. The returned cancel func removes the
// subscription and closes the channel; it is safe to call more than
// once.
func (b *Broker) Subscribe(clientID string) (<-chan Event, func()) {
	if clientID == "" {
		clientID = uuid.New().String()
	}
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if old, ok := b.subs[clientID]; ok {
		// A reconnecting client replaces its previous stream.
		close(old)
	}
	b.subs[clientID] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if cur, ok := b.subs[clientID]; ok && cur == ch {
				delete(b.subs, clientID)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber in subscription-map
// order. Delivery is non-blocking: a subscriber that cannot keep up
// loses events rather than stalling the publisher. Callers that need
// ordered delivery (the ledger) publish while holding their own append
// lock, so events enter every channel in append order.
func (b *Broker) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current subscription count.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
