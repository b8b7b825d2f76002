package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
)

// Store persists orders, their append-only fulfillment log, documents and
// the audit trail.
type Store interface {
	// InTransaction runs fn in one atomic unit. Nothing fn wrote is visible
	// unless fn returns nil.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, int64, error)
	ListEvents(ctx context.Context, orderID string) ([]domain.FulfillmentEvent, error)
	GetDocument(ctx context.Context, id string) (*domain.FulfillmentDocument, error)

	// AppendAudit inserts one audit entry. The audit log is append-only.
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, orderID string) ([]*AuditEntry, error)
}

// Tx is the write side of a store transaction.
type Tx interface {
	CreateOrder(ctx context.Context, order *domain.Order) error

	// LockOrder loads the order and holds its row lock until the transaction
	// ends. It fails with LOCK_CONTENTION instead of waiting.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)

	// SaveOrder writes the order if its version still matches the stored one
	// and increments order.Version. A mismatch is LOCK_CONTENTION.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// AppendEvents appends events to the order's log and assigns SequenceNo
	// 1, 2, 3... per order in commit order. The order must be locked.
	AppendEvents(ctx context.Context, orderID string, events []domain.FulfillmentEvent) ([]domain.FulfillmentEvent, error)

	SaveDocument(ctx context.Context, doc *domain.FulfillmentDocument) error

	// NextNumber returns the next value of a document number series.
	NextNumber(ctx context.Context, series string) (int64, error)
}

// OrderFilter narrows ListOrders
type OrderFilter struct {
	Kind             *domain.OrderKind
	ApprovalState    *domain.ApprovalState
	FulfillmentState *domain.FulfillmentState
	CounterpartyRef  *string
	Limit            int
	Offset           int
}

// DefaultListLimit is used when a filter has no limit
const DefaultListLimit = 50

// AuditEntry is one immutable record in the order audit log.
type AuditEntry struct {
	ID                string         `json:"id"`
	OrderID           string         `json:"order_id"`
	Action            string         `json:"action"` // created | submitted | approved | rejected | dispatched | received | returned | cancelled | line_added | rebuilt
	PerformedBy       string         `json:"performed_by"`
	PerformedAt       time.Time      `json:"performed_at"`
	StatusBefore      *string        `json:"status_before,omitempty"`
	StatusAfter       *string        `json:"status_after,omitempty"`
	FulfillmentBefore *string        `json:"fulfillment_before,omitempty"`
	FulfillmentAfter  *string        `json:"fulfillment_after,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (f OrderFilter) matches(o *domain.Order) bool {
	if f.Kind != nil && o.Kind != *f.Kind {
		return false
	}
	if f.ApprovalState != nil && o.ApprovalState != *f.ApprovalState {
		return false
	}
	if f.FulfillmentState != nil && o.FulfillmentState != *f.FulfillmentState {
		return false
	}
	if f.CounterpartyRef != nil && o.CounterpartyRef != *f.CounterpartyRef {
		return false
	}
	return true
}

func (f OrderFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
