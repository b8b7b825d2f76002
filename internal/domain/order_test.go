package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestOrder(t *testing.T, kind OrderKind, committed ...string) *Order {
	t.Helper()
	lines := make([]OrderLine, 0, len(committed))
	for i, qty := range committed {
		lines = append(lines, newTestLine(t, string(rune('a'+i)), qty, UnitDiscrete))
	}
	order, err := NewOrder("o1", "PO-0001", kind, "vendor-7", "alice", lines, testNow)
	require.NoError(t, err)
	return order
}

func approvedOrder(t *testing.T, kind OrderKind, committed ...string) *Order {
	t.Helper()
	order := newTestOrder(t, kind, committed...)
	require.NoError(t, order.SubmitForApproval("alice", testNow))
	require.NoError(t, order.Approve("bob", testNow))
	return order
}

func receipt(lineID, qty string) FulfillmentEvent {
	return FulfillmentEvent{OrderID: "o1", LineID: lineID, Direction: DirectionReceipt, DeltaQty: dec(qty)}
}

func returned(lineID, qty string) FulfillmentEvent {
	return FulfillmentEvent{OrderID: "o1", LineID: lineID, Direction: DirectionReturn, DeltaQty: dec(qty)}
}

func TestNewOrder(t *testing.T) {
	order := newTestOrder(t, KindPurchaseOrder, "100", "5")

	assert.Equal(t, ApprovalDraft, order.ApprovalState)
	assert.Equal(t, FulfillmentNotStarted, order.FulfillmentState)
	require.Len(t, order.Lines, 2)
	assert.Equal(t, 1, order.Lines[0].LineNumber)
	assert.Equal(t, 2, order.Lines[1].LineNumber)
	assert.Equal(t, "o1", order.Lines[1].OrderID)
	assert.Equal(t, "262.5", order.TotalValue().String())
}

func TestNewOrder_Validation(t *testing.T) {
	line := newTestLine(t, "a", "1", UnitDiscrete)

	_, err := NewOrder("o1", "PO-1", "BLANKET", "v", "alice", []OrderLine{line}, testNow)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewOrder("o1", "PO-1", KindPurchaseOrder, " ", "alice", []OrderLine{line}, testNow)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewOrder("o1", "PO-1", KindPurchaseOrder, "v", "alice", nil, testNow)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewOrder("o1", "PO-1", KindPurchaseOrder, "v", "alice", []OrderLine{line, line}, testNow)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestRecomputeFulfillmentState(t *testing.T) {
	order := approvedOrder(t, KindPurchaseOrder, "10", "5")

	assert.Equal(t, FulfillmentNotStarted, order.RecomputeFulfillmentState(testNow))

	order.Lines[0].FulfilledQty = dec("10")
	assert.Equal(t, FulfillmentPartial, order.RecomputeFulfillmentState(testNow))
	assert.Nil(t, order.CompletedAt)

	order.Lines[1].FulfilledQty = dec("5")
	assert.Equal(t, FulfillmentComplete, order.RecomputeFulfillmentState(testNow))
	require.NotNil(t, order.CompletedAt)

	later := testNow.Add(time.Hour)
	assert.Equal(t, FulfillmentComplete, order.RecomputeFulfillmentState(later))
	assert.Equal(t, testNow, *order.CompletedAt, "completion time is stamped once")

	order.Lines[1].FulfilledQty = dec("4")
	assert.Equal(t, FulfillmentPartial, order.RecomputeFulfillmentState(later))
	assert.Nil(t, order.CompletedAt)
}

func TestApplyEvents(t *testing.T) {
	order := approvedOrder(t, KindPurchaseOrder, "100")

	next, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "40")}, testNow)
	require.NoError(t, err)
	assert.Equal(t, FulfillmentPartial, next.FulfillmentState)
	assert.Equal(t, "40", next.Lines[0].FulfilledQty.String())
	assert.Equal(t, FulfillmentNotStarted, order.FulfillmentState, "receiver must not change")

	next, err = next.ApplyEvents([]FulfillmentEvent{receipt("a", "60")}, testNow)
	require.NoError(t, err)
	assert.Equal(t, FulfillmentComplete, next.FulfillmentState)
}

func TestApplyEvents_AllOrNothing(t *testing.T) {
	order := approvedOrder(t, KindPurchaseOrder, "10", "10")

	_, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "5"), receipt("b", "11")}, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOverFulfillment)
	assert.True(t, order.Lines[0].FulfilledQty.IsZero())
	assert.True(t, order.Lines[1].FulfilledQty.IsZero())
	assert.Equal(t, FulfillmentNotStarted, order.FulfillmentState)
}

func TestApplyEvents_SameLineTwiceInBatch(t *testing.T) {
	order := approvedOrder(t, KindPurchaseOrder, "10")

	_, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "6"), receipt("a", "6")}, testNow)
	assert.ErrorIs(t, err, errors.ErrOverFulfillment)

	next, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "6"), receipt("a", "4")}, testNow)
	require.NoError(t, err)
	assert.Equal(t, FulfillmentComplete, next.FulfillmentState)
}

func TestApplyEvents_RequiresApproval(t *testing.T) {
	order := newTestOrder(t, KindPurchaseOrder, "10")

	_, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "1")}, testNow)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	require.NoError(t, order.SubmitForApproval("alice", testNow))
	_, err = order.ApplyEvents([]FulfillmentEvent{receipt("a", "1")}, testNow)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestApplyEvents_UnknownLineAndEmptyBatch(t *testing.T) {
	order := approvedOrder(t, KindPurchaseOrder, "10")

	_, err := order.ApplyEvents([]FulfillmentEvent{receipt("zz", "1")}, testNow)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = order.ApplyEvents(nil, testNow)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestApplyEvents_ReturnReopensCompleteOrder(t *testing.T) {
	order := approvedOrder(t, KindSubcontractOrder, "10")

	next, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "10")}, testNow)
	require.NoError(t, err)
	require.Equal(t, FulfillmentComplete, next.FulfillmentState)

	_, err = next.ApplyEvents([]FulfillmentEvent{receipt("a", "1")}, testNow)
	assert.ErrorIs(t, err, errors.ErrOverFulfillment)

	next, err = next.ApplyEvents([]FulfillmentEvent{returned("a", "3")}, testNow)
	require.NoError(t, err)
	assert.Equal(t, FulfillmentPartial, next.FulfillmentState)
	assert.Nil(t, next.CompletedAt)
}

func TestAddLine_PurchaseOrderOnlyInDraft(t *testing.T) {
	order := newTestOrder(t, KindPurchaseOrder, "10")
	require.NoError(t, order.AddLine(newTestLine(t, "b", "3", UnitDiscrete), testNow))
	assert.Len(t, order.Lines, 2)
	assert.Equal(t, 2, order.Lines[1].LineNumber)

	require.NoError(t, order.SubmitForApproval("alice", testNow))
	err := order.AddLine(newTestLine(t, "c", "3", UnitDiscrete), testNow)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	require.NoError(t, order.Approve("bob", testNow))
	err = order.AddLine(newTestLine(t, "c", "3", UnitDiscrete), testNow)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestAddLine_SubcontractUntilFirstShipment(t *testing.T) {
	order := approvedOrder(t, KindSubcontractOrder, "10")

	require.NoError(t, order.AddLine(newTestLine(t, "b", "3", UnitDiscrete), testNow))

	next, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "1")}, testNow)
	require.NoError(t, err)

	err = next.AddLine(newTestLine(t, "c", "3", UnitDiscrete), testNow)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	t.Run("from draft", func(t *testing.T) {
		order := newTestOrder(t, KindPurchaseOrder, "10")
		require.NoError(t, order.Cancel("alice", "duplicate", testNow))
		assert.Equal(t, ApprovalCancelled, order.ApprovalState)
		require.NotNil(t, order.CancelReason)
		assert.Equal(t, "duplicate", *order.CancelReason)
	})

	t.Run("twice", func(t *testing.T) {
		order := newTestOrder(t, KindPurchaseOrder, "10")
		require.NoError(t, order.Cancel("alice", "", testNow))
		assert.ErrorIs(t, order.Cancel("alice", "", testNow), errors.ErrAlreadyDecided)
	})

	t.Run("rejected", func(t *testing.T) {
		order := newTestOrder(t, KindPurchaseOrder, "10")
		require.NoError(t, order.SubmitForApproval("alice", testNow))
		require.NoError(t, order.Reject("bob", "too expensive", testNow))
		assert.ErrorIs(t, order.Cancel("alice", "", testNow), errors.ErrInvalidTransition)
	})

	t.Run("partially fulfilled keeps ledger", func(t *testing.T) {
		order := approvedOrder(t, KindPurchaseOrder, "10")
		next, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "4")}, testNow)
		require.NoError(t, err)

		require.NoError(t, next.Cancel("alice", "vendor closed", testNow))
		assert.Equal(t, FulfillmentPartial, next.FulfillmentState)
		assert.Equal(t, "4", next.Lines[0].FulfilledQty.String())

		_, err = next.ApplyEvents([]FulfillmentEvent{receipt("a", "1")}, testNow)
		assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	})

	t.Run("complete", func(t *testing.T) {
		order := approvedOrder(t, KindPurchaseOrder, "10")
		next, err := order.ApplyEvents([]FulfillmentEvent{receipt("a", "10")}, testNow)
		require.NoError(t, err)
		assert.ErrorIs(t, next.Cancel("alice", "", testNow), errors.ErrInvalidTransition)
	})
}

func TestMarkDispatched(t *testing.T) {
	order := newTestOrder(t, KindPurchaseOrder, "10")
	_, err := order.MarkDispatched("email", "alice", testNow)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	order = approvedOrder(t, KindPurchaseOrder, "10")
	changed, err := order.MarkDispatched("email", "alice", testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ApprovalApproved, order.ApprovalState)
	assert.Equal(t, FulfillmentNotStarted, order.FulfillmentState)

	changed, err = order.MarkDispatched("whatsapp", "alice", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "email", *order.DispatchChannel)
}

func TestClone(t *testing.T) {
	order := newTestOrder(t, KindPurchaseOrder, "10")
	c := order.Clone()
	c.Lines[0].FulfilledQty = dec("3")
	assert.True(t, order.Lines[0].FulfilledQty.IsZero())
}
