package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// OrderKind selects the specialisation of the reconciliation model.
type OrderKind string

const (
	// KindPurchaseOrder is received from a vendor through goods receipts.
	KindPurchaseOrder OrderKind = "PURCHASE_ORDER"
	// KindSubcontractOrder is issued to a subcontractor and returned.
	KindSubcontractOrder OrderKind = "SUBCONTRACT_ORDER"
)

// IsValid checks if the kind is known
func (k OrderKind) IsValid() bool {
	switch k {
	case KindPurchaseOrder, KindSubcontractOrder:
		return true
	}
	return false
}

// NumberPrefix is the document number prefix for the kind
func (k OrderKind) NumberPrefix() string {
	if k == KindSubcontractOrder {
		return "SCO"
	}
	return "PO"
}

// FulfillmentState is derived from the lines, never set directly.
type FulfillmentState string

const (
	FulfillmentNotStarted FulfillmentState = "NOT_STARTED"
	FulfillmentPartial    FulfillmentState = "PARTIAL"
	FulfillmentComplete   FulfillmentState = "COMPLETE"
)

// Order is the aggregate root: a commitment made of lines plus approval and
// fulfillment state.
type Order struct {
	ID               string           `json:"id"`
	Number           string           `json:"number"`
	Kind             OrderKind        `json:"kind"`
	CounterpartyRef  string           `json:"counterparty_ref"`
	ApprovalState    ApprovalState    `json:"approval_state"`
	FulfillmentState FulfillmentState `json:"fulfillment_state"`
	Lines            []OrderLine      `json:"lines"`
	Version          int64            `json:"version"`

	CreatedBy       string     `json:"created_by"`
	SubmittedBy     *string    `json:"submitted_by,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	DecidedBy       *string    `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CancelledBy     *string    `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	DispatchedBy    *string    `json:"dispatched_by,omitempty"`
	DispatchedAt    *time.Time `json:"dispatched_at,omitempty"`
	DispatchChannel *string    `json:"dispatch_channel,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewOrder creates a DRAFT order owning lines.
func NewOrder(id, number string, kind OrderKind, counterpartyRef, createdBy string, lines []OrderLine, now time.Time) (*Order, error) {
	if !kind.IsValid() {
		return nil, errors.InvalidInput("kind", fmt.Sprintf("unknown order kind %q", kind))
	}
	if strings.TrimSpace(counterpartyRef) == "" {
		return nil, errors.InvalidInput("counterparty_ref", "counterparty reference cannot be empty")
	}
	if len(lines) == 0 {
		return nil, errors.InvalidInput("lines", "order must have at least 1 line")
	}

	order := &Order{
		ID:               id,
		Number:           number,
		Kind:             kind,
		CounterpartyRef:  counterpartyRef,
		ApprovalState:    ApprovalDraft,
		FulfillmentState: FulfillmentNotStarted,
		Lines:            make([]OrderLine, 0, len(lines)),
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, line := range lines {
		if err := order.appendLine(line); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// Clone returns a deep copy so a batch can be applied without touching the
// original on failure.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = make([]OrderLine, len(o.Lines))
	copy(c.Lines, o.Lines)
	return &c
}

// Line returns the line with the given id
func (o *Order) Line(lineID string) (*OrderLine, error) {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return &o.Lines[i], nil
		}
	}
	return nil, errors.NotFound("order line", lineID)
}

// IsArchived reports whether the order is read-only for line changes:
// complete or cancelled.
func (o *Order) IsArchived() bool {
	return o.ApprovalState == ApprovalCancelled || o.FulfillmentState == FulfillmentComplete
}

// TotalValue sums the line values
func (o *Order) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.LineValue())
	}
	return total
}

// AddLine appends a line. Purchase orders only accept lines while DRAFT.
// Subcontract orders also accept them once APPROVED, until the first
// shipment is recorded.
func (o *Order) AddLine(line OrderLine, now time.Time) error {
	switch o.Kind {
	case KindPurchaseOrder:
		if o.ApprovalState != ApprovalDraft {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot add lines to a purchase order in state %s", o.ApprovalState)
		}
	case KindSubcontractOrder:
		extendable := o.ApprovalState == ApprovalDraft ||
			(o.ApprovalState == ApprovalApproved && o.FulfillmentState == FulfillmentNotStarted)
		if !extendable {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot add lines to a subcontract order in state %s/%s", o.ApprovalState, o.FulfillmentState)
		}
	default:
		return errors.InvalidInput("kind", fmt.Sprintf("unknown order kind %q", o.Kind))
	}

	if err := o.appendLine(line); err != nil {
		return err
	}
	o.RecomputeFulfillmentState(now)
	o.UpdatedAt = now
	return nil
}

func (o *Order) appendLine(line OrderLine) error {
	for _, existing := range o.Lines {
		if existing.ID == line.ID {
			return errors.InvalidInput("line_id", fmt.Sprintf("duplicate line id %q", line.ID))
		}
	}
	if !line.CommittedQty.IsPositive() {
		return errors.InvalidQuantity("committed_qty", "committed quantity must be positive")
	}
	if !line.FulfilledQty.IsZero() {
		return errors.InvalidInput("fulfilled_qty", "new lines cannot carry fulfilled quantity")
	}

	line.OrderID = o.ID
	line.LineNumber = len(o.Lines) + 1
	o.Lines = append(o.Lines, line)
	return nil
}

// RecomputeFulfillmentState derives the fulfillment state from the lines:
// COMPLETE when nothing remains on any line, NOT_STARTED when nothing was
// fulfilled on any line, PARTIAL otherwise. It is idempotent.
func (o *Order) RecomputeFulfillmentState(now time.Time) FulfillmentState {
	allComplete, noneStarted := true, true
	for _, line := range o.Lines {
		if !line.IsComplete() {
			allComplete = false
		}
		if !line.FulfilledQty.IsZero() {
			noneStarted = false
		}
	}

	var state FulfillmentState
	switch {
	case len(o.Lines) > 0 && allComplete:
		state = FulfillmentComplete
	case noneStarted:
		state = FulfillmentNotStarted
	default:
		state = FulfillmentPartial
	}

	if state == FulfillmentComplete && o.CompletedAt == nil {
		at := now
		o.CompletedAt = &at
	}
	if state != FulfillmentComplete {
		o.CompletedAt = nil
	}
	o.FulfillmentState = state
	return state
}

// AcceptsFulfillment returns nil when events may be applied to the order.
func (o *Order) AcceptsFulfillment() error {
	switch o.ApprovalState {
	case ApprovalApproved:
		return nil
	case ApprovalCancelled:
		return errors.Newf(errors.ErrCodeInvalidTransition, "order %s is cancelled", o.Number)
	default:
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"order %s is not approved (state %s)", o.Number, o.ApprovalState)
	}
}

// ApplyEvents applies a batch all-or-nothing and returns the resulting order.
// The receiver is never modified; on error no line of the batch is applied.
func (o *Order) ApplyEvents(events []FulfillmentEvent, now time.Time) (*Order, error) {
	if err := o.AcceptsFulfillment(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.InvalidInput("lines", "batch must contain at least 1 line")
	}

	next := o.Clone()
	for _, ev := range events {
		line, err := next.Line(ev.LineID)
		if err != nil {
			return nil, err
		}
		updated, _, err := ApplyEvent(*line, ev)
		if err != nil {
			return nil, err
		}
		*line = updated
	}

	next.RecomputeFulfillmentState(now)
	next.UpdatedAt = now
	return next, nil
}

// Cancel freezes the order. Fulfilled quantities are left as they are for
// manual reconciliation; nothing is reversed.
func (o *Order) Cancel(actor, reason string, now time.Time) error {
	if o.FulfillmentState == FulfillmentComplete {
		return errors.Newf(errors.ErrCodeInvalidTransition, "order %s is complete and cannot be cancelled", o.Number)
	}
	if err := o.checkTransition(ApprovalCancelled); err != nil {
		return err
	}
	if strings.TrimSpace(actor) == "" {
		return errors.InvalidInput("actor_ref", "actor is required")
	}

	o.ApprovalState = ApprovalCancelled
	o.CancelledBy = &actor
	o.CancelledAt = &now
	if reason != "" {
		o.CancelReason = &reason
	}
	o.UpdatedAt = now
	return nil
}

// MarkDispatched records that the approved order was sent to the
// counterparty. It does not touch approval or the fulfillment ledger and is
// idempotent: the first call wins and later calls report false.
func (o *Order) MarkDispatched(channel, actor string, now time.Time) (bool, error) {
	if o.ApprovalState != ApprovalApproved {
		return false, errors.Newf(errors.ErrCodeInvalidTransition,
			"order %s must be approved before it is dispatched (state %s)", o.Number, o.ApprovalState)
	}
	if o.DispatchedAt != nil {
		return false, nil
	}
	if strings.TrimSpace(channel) == "" {
		return false, errors.InvalidInput("channel", "dispatch channel is required")
	}

	o.DispatchChannel = &channel
	o.DispatchedBy = &actor
	o.DispatchedAt = &now
	o.UpdatedAt = now
	return true, nil
}
