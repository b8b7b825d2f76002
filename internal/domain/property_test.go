package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// simulate applies one single-event batch per step. Positive steps are
// receipts, negative steps are returns, zero is an invalid quantity. Failed
// batches are dropped like the service drops them.
func simulate(committed int, steps []int) (*Order, []FulfillmentEvent, bool) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	line, err := NewOrderLine("a", LineSpec{ItemRef: "ITEM", CommittedQty: decimal.NewFromInt(int64(committed))}, DefaultPrecision)
	if err != nil {
		return nil, nil, false
	}
	order, err := NewOrder("o1", "PO-1", KindPurchaseOrder, "v", "alice", []OrderLine{line}, now)
	if err != nil {
		return nil, nil, false
	}
	_ = order.SubmitForApproval("alice", now)
	_ = order.Approve("bob", now)

	baseline := order.Clone()
	var log []FulfillmentEvent
	for _, step := range steps {
		ev := FulfillmentEvent{OrderID: "o1", LineID: "a", Direction: DirectionReceipt, DeltaQty: decimal.NewFromInt(int64(step))}
		if step < 0 {
			ev.Direction = DirectionReturn
			ev.DeltaQty = decimal.NewFromInt(int64(-step))
		}

		next, err := order.ApplyEvents([]FulfillmentEvent{ev}, now)
		if err != nil {
			continue
		}
		ev.SequenceNo = int64(len(log) + 1)
		log = append(log, ev)
		order = next

		f := order.Lines[0].FulfilledQty
		if f.IsNegative() || f.GreaterThan(order.Lines[0].CommittedQty) {
			return nil, nil, false
		}
	}
	return baseline, log, true
}

func TestLedgerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("fulfilled stays within 0 and committed", prop.ForAll(
		func(committed int, steps []int) bool {
			_, _, ok := simulate(committed, steps)
			return ok
		},
		gen.IntRange(1, 50),
		gen.SliceOf(gen.IntRange(-20, 20)),
	))

	properties.Property("replay equals incremental application", prop.ForAll(
		func(committed int, steps []int) bool {
			baseline, log, ok := simulate(committed, steps)
			if !ok {
				return false
			}

			incremental, err := baseline.Clone(), error(nil)
			for _, ev := range log {
				incremental, err = incremental.ApplyEvents([]FulfillmentEvent{ev}, ev.OccurredAt)
				if err != nil {
					return false
				}
			}

			replayed, err := Replay(baseline, log)
			if err != nil {
				return false
			}
			return len(Diverged(incremental, replayed)) == 0 &&
				incremental.FulfillmentState == replayed.FulfillmentState
		},
		gen.IntRange(1, 50),
		gen.SliceOf(gen.IntRange(-20, 20)),
	))

	properties.Property("a failed batch leaves the order unchanged", prop.ForAll(
		func(committed, first, second int) bool {
			baseline, _, ok := simulate(committed, nil)
			if !ok {
				return false
			}
			batch := []FulfillmentEvent{
				{OrderID: "o1", LineID: "a", Direction: DirectionReceipt, DeltaQty: decimal.NewFromInt(int64(first))},
				{OrderID: "o1", LineID: "a", Direction: DirectionReceipt, DeltaQty: decimal.NewFromInt(int64(second))},
			}
			next, err := baseline.ApplyEvents(batch, time.Time{})
			if err != nil {
				return baseline.Lines[0].FulfilledQty.IsZero() && next == nil
			}
			return next.Lines[0].FulfilledQty.Equal(decimal.NewFromInt(int64(first + second)))
		},
		gen.IntRange(1, 30),
		gen.IntRange(0, 20),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
