package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

// Replay rebuilds the fulfillment state of baseline from its event log.
// Fulfilled and rejected quantities are reset to zero and the events are
// folded in SequenceNo order. The result must equal what incremental
// application produced; baseline is not modified.
//
// Approval state is not checked: the log is history, including events
// recorded before a cancellation.
func Replay(baseline *Order, events []FulfillmentEvent) (*Order, error) {
	replayed := baseline.Clone()
	for i := range replayed.Lines {
		replayed.Lines[i].FulfilledQty = decimal.Zero
		replayed.Lines[i].RejectedQty = decimal.Zero
	}
	replayed.CompletedAt = nil

	ordered := make([]FulfillmentEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceNo < ordered[j].SequenceNo
	})

	var last FulfillmentEvent
	for _, ev := range ordered {
		if ev.OrderID != "" && ev.OrderID != baseline.ID {
			return nil, errors.InvalidInput("order_id",
				fmt.Sprintf("event %d belongs to order %q", ev.SequenceNo, ev.OrderID))
		}
		line, err := replayed.Line(ev.LineID)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeOf(err), fmt.Sprintf("replay event %d", ev.SequenceNo))
		}
		updated, _, err := ApplyEvent(*line, ev)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeOf(err), fmt.Sprintf("replay event %d", ev.SequenceNo))
		}
		*line = updated
		last = ev
	}

	replayed.RecomputeFulfillmentState(last.OccurredAt)
	if replayed.FulfillmentState == FulfillmentComplete && baseline.CompletedAt != nil {
		replayed.CompletedAt = baseline.CompletedAt
	}
	return replayed, nil
}

// LineDivergence describes a line whose cached quantities disagree with the
// replayed event log.
type LineDivergence struct {
	LineID            string          `json:"line_id"`
	LineNumber        int             `json:"line_number"`
	CachedFulfilled   decimal.Decimal `json:"cached_fulfilled"`
	ReplayedFulfilled decimal.Decimal `json:"replayed_fulfilled"`
	CachedRejected    decimal.Decimal `json:"cached_rejected"`
	ReplayedRejected  decimal.Decimal `json:"replayed_rejected"`
}

// Diverged compares cached line state with a replay of the log. An empty
// result means the cache is consistent.
func Diverged(cached, replayed *Order) []LineDivergence {
	var out []LineDivergence
	for _, c := range cached.Lines {
		r, err := replayed.Line(c.ID)
		if err != nil {
			continue
		}
		if c.FulfilledQty.Equal(r.FulfilledQty) && c.RejectedQty.Equal(r.RejectedQty) {
			continue
		}
		out = append(out, LineDivergence{
			LineID:            c.ID,
			LineNumber:        c.LineNumber,
			CachedFulfilled:   c.FulfilledQty,
			ReplayedFulfilled: r.FulfilledQty,
			CachedRejected:    c.RejectedQty,
			ReplayedRejected:  r.RejectedQty,
		})
	}
	return out
}
