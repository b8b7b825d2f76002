// Package events defines the domain events emitted after an order mutation
// commits, and the in-process bus that fans them out to subscribers.
package events

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
)

// Type names a domain event
type Type string

const (
	OrderCreated            Type = "order.created"
	OrderSubmitted          Type = "order.submitted"
	OrderApproved           Type = "order.approved"
	OrderRejected           Type = "order.rejected"
	OrderDispatched         Type = "order.dispatched"
	OrderFulfillmentChanged Type = "order.fulfillment_changed"
	OrderCancelled          Type = "order.cancelled"
)

// Event is the envelope published for every domain event.
type Event struct {
	EventID     string           `json:"event_id"`
	Type        Type             `json:"type"`
	OrderID     string           `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	OrderKind   domain.OrderKind `json:"order_kind"`
	ActorRef    string           `json:"actor_ref,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Payload     map[string]any   `json:"payload,omitempty"`
}

// New builds an event for order
func New(typ Type, order *domain.Order, actor string, at time.Time, payload map[string]any) Event {
	return Event{
		EventID:     uuid.NewString(),
		Type:        typ,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		OrderKind:   order.Kind,
		ActorRef:    actor,
		CreatedAt:   at,
		Payload:     payload,
	}
}

// Publisher delivers events somewhere
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes events from the Bus
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	types   map[Type]bool
	handler Handler
}

// Bus delivers events synchronously to every matching subscriber. A failing
// subscriber is logged and does not stop delivery to the others.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	log  *logger.Logger
}

// NewBus creates a new Bus
func NewBus(log *logger.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers handler for the given types, or for every type when
// none are given.
func (b *Bus) Subscribe(handler Handler, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var set map[Type]bool
	if len(types) > 0 {
		set = make(map[Type]bool, len(types))
		for _, t := range types {
			set[t] = true
		}
	}
	b.subs = append(b.subs, subscription{types: set, handler: handler})
}

// Publish implements Publisher
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		if err := sub.handler(ctx, ev); err != nil {
			b.log.Warn().
				Err(err).
				Str("event_type", string(ev.Type)).
				Str("order_id", ev.OrderID).
				Msg("Event subscriber failed")
		}
	}
	return nil
}

// MultiPublisher publishes to every publisher and joins their errors
type MultiPublisher []Publisher

// Publish implements Publisher
func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns what was published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the types published so far, in order
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
