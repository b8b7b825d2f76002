package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// OrderLine is the commitment for one item within an order.
type OrderLine struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	LineNumber   int             `json:"line_number"`
	ItemRef      string          `json:"item_ref"`
	Description  string          `json:"description,omitempty"`
	Unit         string          `json:"unit"`
	UnitKind     UnitKind        `json:"unit_kind"`
	Precision    int32           `json:"precision"`
	CommittedQty decimal.Decimal `json:"committed_qty"`
	FulfilledQty decimal.Decimal `json:"fulfilled_qty"`
	RejectedQty  decimal.Decimal `json:"rejected_qty"`
	UnitValue    decimal.Decimal `json:"unit_value"`
}

// LineSpec is the caller's description of a new line.
type LineSpec struct {
	ItemRef      string
	Description  string
	Unit         string
	UnitKind     UnitKind
	CommittedQty decimal.Decimal
	UnitValue    decimal.Decimal
	// LineTotal, when set, must equal CommittedQty x UnitValue at 2 places.
	LineTotal *decimal.Decimal
}

// NewOrderLine validates spec and builds a line with nothing fulfilled yet.
// The committed quantity is rounded to the precision of the unit kind.
func NewOrderLine(id string, spec LineSpec, precision Precision) (OrderLine, error) {
	if strings.TrimSpace(spec.ItemRef) == "" {
		return OrderLine{}, errors.InvalidInput("item_ref", "item reference cannot be empty")
	}

	kind := spec.UnitKind
	if kind == "" {
		kind = UnitDiscrete
	}
	if !kind.IsValid() {
		return OrderLine{}, errors.InvalidInput("unit_kind", fmt.Sprintf("unknown unit kind %q", spec.UnitKind))
	}

	places := precision.For(kind)
	committed := Normalize(spec.CommittedQty, places)
	if !committed.IsPositive() {
		return OrderLine{}, errors.InvalidQuantity("committed_qty",
			fmt.Sprintf("committed quantity must be positive, got %s", spec.CommittedQty.String()))
	}
	if spec.UnitValue.IsNegative() {
		return OrderLine{}, errors.InvalidInput("unit_value", "unit value cannot be negative")
	}

	line := OrderLine{
		ID:           id,
		ItemRef:      spec.ItemRef,
		Description:  spec.Description,
		Unit:         spec.Unit,
		UnitKind:     kind,
		Precision:    places,
		CommittedQty: committed,
		FulfilledQty: decimal.Zero,
		RejectedQty:  decimal.Zero,
		UnitValue:    spec.UnitValue,
	}

	if spec.LineTotal != nil && !spec.LineTotal.Round(2).Equal(line.LineValue()) {
		return OrderLine{}, errors.InvalidInput("line_total",
			fmt.Sprintf("line total %s does not match %s x %s = %s",
				spec.LineTotal.String(), committed.String(), spec.UnitValue.String(), line.LineValue().String()))
	}

	return line, nil
}

// RemainingQty returns the quantity still to be fulfilled
func (l OrderLine) RemainingQty() decimal.Decimal {
	return Remaining(l.CommittedQty, l.FulfilledQty)
}

// IsComplete returns true when nothing remains to be fulfilled
func (l OrderLine) IsComplete() bool {
	return l.RemainingQty().IsZero()
}

// LineValue is committed quantity times unit value, rounded to 2 places
func (l OrderLine) LineValue() decimal.Decimal {
	return l.CommittedQty.Mul(l.UnitValue).Round(2)
}

// ApplyEvent applies one fulfillment event to line and returns the updated
// line and whether it is now complete. line itself is not modified.
//
// A receipt larger than the remaining quantity is rejected outright; the
// caller must split or correct the request.
func ApplyEvent(line OrderLine, ev FulfillmentEvent) (OrderLine, bool, error) {
	if ev.LineID != line.ID {
		return line, false, errors.Newf(errors.ErrCodeNotFound,
			"event targets line %q, not %q", ev.LineID, line.ID)
	}
	if ev.OrderID != "" && line.OrderID != "" && ev.OrderID != line.OrderID {
		return line, false, errors.InvalidInput("order_id",
			fmt.Sprintf("event for order %q applied to line of order %q", ev.OrderID, line.OrderID))
	}

	fulfilled, err := Apply(line.CommittedQty, line.FulfilledQty, ev.Direction, ev.DeltaQty)
	if err != nil {
		return line, false, errors.Wrap(err, errors.CodeOf(err), fmt.Sprintf("line %d (%s)", line.LineNumber, line.ItemRef))
	}

	updated := line
	updated.FulfilledQty = fulfilled
	if ev.Direction == DirectionReceipt && ev.Quality != nil && ev.Quality.RejectedQty.IsPositive() {
		updated.RejectedQty = updated.RejectedQty.Add(ev.Quality.RejectedQty)
	}

	return updated, updated.IsComplete(), nil
}
