package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QualityOutcome is the inspection result attached to a receipt. Rejected
// quantity is a side channel: it never counts toward fulfillment and needs a
// replenishment order outside this core.
type QualityOutcome struct {
	RejectedQty decimal.Decimal `json:"rejected_qty"`
	Remarks     string          `json:"remarks,omitempty"`
}

// FulfillmentEvent is one partial receipt or return applied to a line.
// Events are immutable once recorded; corrections are new offsetting events.
type FulfillmentEvent struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	LineID     string          `json:"line_id"`
	DocumentID string          `json:"document_id"`
	Direction  Direction       `json:"direction"`
	DeltaQty   decimal.Decimal `json:"delta_qty"`
	SequenceNo int64           `json:"sequence_no"`
	ActorRef   string          `json:"actor_ref"`
	OccurredAt time.Time       `json:"occurred_at"`
	Quality    *QualityOutcome `json:"quality,omitempty"`
}

// DocumentKind names the envelope a batch of events is filed under.
type DocumentKind string

const (
	DocumentGoodsReceipt DocumentKind = "GOODS_RECEIPT"
	DocumentReturnNote   DocumentKind = "RETURN_NOTE"
)

// DocumentKindFor maps a direction to its document kind
func DocumentKindFor(direction Direction) DocumentKind {
	if direction == DirectionReturn {
		return DocumentReturnNote
	}
	return DocumentGoodsReceipt
}

// FulfillmentDocument groups the events of one batch, created atomically
// against one order. It cannot outlive the order but is addressable on its
// own for audit.
type FulfillmentDocument struct {
	ID        string             `json:"id"`
	OrderID   string             `json:"order_id"`
	Number    string             `json:"number"`
	Kind      DocumentKind       `json:"kind"`
	Direction Direction          `json:"direction"`
	ActorRef  string             `json:"actor_ref"`
	CreatedAt time.Time          `json:"created_at"`
	Events    []FulfillmentEvent `json:"events"`
}

// TotalQty sums the deltas of the document's events
func (d FulfillmentDocument) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, ev := range d.Events {
		total = total.Add(ev.DeltaQty)
	}
	return total
}
