package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

func newTestLine(t *testing.T, id, committed string, kind UnitKind) OrderLine {
	t.Helper()
	line, err := NewOrderLine(id, LineSpec{
		ItemRef:      "ITEM-" + id,
		Unit:         "pcs",
		UnitKind:     kind,
		CommittedQty: dec(committed),
		UnitValue:    dec("2.50"),
	}, DefaultPrecision)
	require.NoError(t, err)
	return line
}

func TestNewOrderLine(t *testing.T) {
	t.Run("rounds committed to unit precision", func(t *testing.T) {
		line, err := NewOrderLine("l1", LineSpec{ItemRef: "FABRIC", Unit: "m", UnitKind: UnitMeasured, CommittedQty: dec("12.34567")}, DefaultPrecision)
		require.NoError(t, err)
		assert.Equal(t, "12.346", line.CommittedQty.String())
		assert.Equal(t, int32(3), line.Precision)
		assert.True(t, line.FulfilledQty.IsZero())
	})

	t.Run("defaults to discrete", func(t *testing.T) {
		line, err := NewOrderLine("l1", LineSpec{ItemRef: "BOLT", CommittedQty: dec("10")}, DefaultPrecision)
		require.NoError(t, err)
		assert.Equal(t, UnitDiscrete, line.UnitKind)
		assert.Equal(t, int32(0), line.Precision)
	})

	t.Run("rejects non-positive committed", func(t *testing.T) {
		_, err := NewOrderLine("l1", LineSpec{ItemRef: "BOLT", CommittedQty: dec("0")}, DefaultPrecision)
		assert.ErrorIs(t, err, errors.ErrInvalidQuantity)

		_, err = NewOrderLine("l1", LineSpec{ItemRef: "BOLT", CommittedQty: dec("0.4")}, DefaultPrecision)
		assert.ErrorIs(t, err, errors.ErrInvalidQuantity)
	})

	t.Run("rejects missing item", func(t *testing.T) {
		_, err := NewOrderLine("l1", LineSpec{CommittedQty: dec("1")}, DefaultPrecision)
		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("rejects unknown unit kind", func(t *testing.T) {
		_, err := NewOrderLine("l1", LineSpec{ItemRef: "X", UnitKind: "LIQUID", CommittedQty: dec("1")}, DefaultPrecision)
		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("checks line total", func(t *testing.T) {
		good := dec("25.00")
		_, err := NewOrderLine("l1", LineSpec{ItemRef: "X", CommittedQty: dec("10"), UnitValue: dec("2.5"), LineTotal: &good}, DefaultPrecision)
		require.NoError(t, err)

		bad := dec("26")
		_, err = NewOrderLine("l1", LineSpec{ItemRef: "X", CommittedQty: dec("10"), UnitValue: dec("2.5"), LineTotal: &bad}, DefaultPrecision)
		assert.ErrorIs(t, err, errors.ErrValidation)
	})
}

func TestApplyEvent(t *testing.T) {
	line := newTestLine(t, "l1", "100", UnitDiscrete)

	updated, complete, err := ApplyEvent(line, FulfillmentEvent{LineID: "l1", Direction: DirectionReceipt, DeltaQty: dec("40")})
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, "40", updated.FulfilledQty.String())
	assert.Equal(t, "60", updated.RemainingQty().String())
	assert.True(t, line.FulfilledQty.IsZero(), "input line must not change")

	updated, complete, err = ApplyEvent(updated, FulfillmentEvent{LineID: "l1", Direction: DirectionReceipt, DeltaQty: dec("60")})
	require.NoError(t, err)
	assert.True(t, complete)
	assert.True(t, updated.IsComplete())
}

func TestApplyEvent_WrongLine(t *testing.T) {
	line := newTestLine(t, "l1", "10", UnitDiscrete)
	_, _, err := ApplyEvent(line, FulfillmentEvent{LineID: "l2", Direction: DirectionReceipt, DeltaQty: dec("1")})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestApplyEvent_KeepsLedgerCode(t *testing.T) {
	line := newTestLine(t, "l1", "10", UnitDiscrete)
	line.LineNumber = 1

	_, _, err := ApplyEvent(line, FulfillmentEvent{LineID: "l1", Direction: DirectionReceipt, DeltaQty: dec("11")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOverFulfillment)
	assert.Contains(t, err.Error(), "line 1 (ITEM-l1)")

	_, _, err = ApplyEvent(line, FulfillmentEvent{LineID: "l1", Direction: DirectionReturn, DeltaQty: dec("1")})
	assert.ErrorIs(t, err, errors.ErrUnderflow)
}

func TestApplyEvent_QualityRejectionIsSideChannel(t *testing.T) {
	line := newTestLine(t, "l1", "10", UnitDiscrete)

	updated, complete, err := ApplyEvent(line, FulfillmentEvent{
		LineID:    "l1",
		Direction: DirectionReceipt,
		DeltaQty:  dec("8"),
		Quality:   &QualityOutcome{RejectedQty: dec("2"), Remarks: "torn"},
	})
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, "8", updated.FulfilledQty.String())
	assert.Equal(t, "2", updated.RejectedQty.String())
	assert.Equal(t, "2", updated.RemainingQty().String())
}
