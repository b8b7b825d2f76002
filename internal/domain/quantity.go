// Package domain holds the fulfillment reconciliation core: the quantity
// ledger, line reconciliation, the order aggregate with its approval gate and
// the fold used to replay the fulfillment event log. Nothing here performs I/O.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// Direction says whether an event adds to or takes from fulfilled quantity.
type Direction string

const (
	DirectionReceipt Direction = "RECEIPT"
	DirectionReturn  Direction = "RETURN"
)

// IsValid checks if the direction is known
func (d Direction) IsValid() bool {
	switch d {
	case DirectionReceipt, DirectionReturn:
		return true
	}
	return false
}

// UnitKind decides the default rounding precision of a line.
type UnitKind string

const (
	// UnitDiscrete is counted in whole units (pcs, boxes).
	UnitDiscrete UnitKind = "DISCRETE"
	// UnitMeasured is measured by length or weight (m, kg).
	UnitMeasured UnitKind = "MEASURED"
)

// IsValid checks if the unit kind is known
func (k UnitKind) IsValid() bool {
	switch k {
	case UnitDiscrete, UnitMeasured:
		return true
	}
	return false
}

// Precision is the number of decimal places quantities are rounded to at the
// input boundary, per unit kind.
type Precision struct {
	Measured int32
	Discrete int32
}

// DefaultPrecision rounds measured units to 3 places and discrete units to 0.
var DefaultPrecision = Precision{Measured: 3, Discrete: 0}

// For returns the precision for a unit kind
func (p Precision) For(kind UnitKind) int32 {
	if kind == UnitMeasured {
		return p.Measured
	}
	return p.Discrete
}

// Normalize rounds q half away from zero to places decimal places.
func Normalize(q decimal.Decimal, places int32) decimal.Decimal {
	return q.Round(places)
}

// Remaining returns committed minus fulfilled.
func Remaining(committed, fulfilled decimal.Decimal) decimal.Decimal {
	return committed.Sub(fulfilled)
}

// Apply returns the fulfilled quantity after moving delta in direction.
// It never clamps: a receipt beyond committed fails with OVER_FULFILLMENT and
// a return below zero fails with UNDERFLOW.
func Apply(committed, fulfilled decimal.Decimal, direction Direction, delta decimal.Decimal) (decimal.Decimal, error) {
	if !delta.IsPositive() {
		return fulfilled, errors.InvalidQuantity("delta_qty",
			fmt.Sprintf("quantity must be positive, got %s", delta.String()))
	}

	switch direction {
	case DirectionReceipt:
		next := fulfilled.Add(delta)
		if next.GreaterThan(committed) {
			return fulfilled, errors.Newf(errors.ErrCodeOverFulfillment,
				"cannot receive %s, only %s remaining of %s committed",
				delta.String(), Remaining(committed, fulfilled).String(), committed.String())
		}
		return next, nil
	case DirectionReturn:
		next := fulfilled.Sub(delta)
		if next.IsNegative() {
			return fulfilled, errors.Newf(errors.ErrCodeUnderflow,
				"cannot return %s, only %s fulfilled", delta.String(), fulfilled.String())
		}
		return next, nil
	default:
		return fulfilled, errors.InvalidInput("direction", fmt.Sprintf("unknown direction %q", direction))
	}
}
