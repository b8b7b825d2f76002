package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
	"github.com/pesio-ai/be-scm-fulfillment/internal/repository"
)

// RecordFulfillmentRequest represents a receipt or return batch against one
// order. The batch is applied all-or-nothing.
type RecordFulfillmentRequest struct {
	OrderID  string
	Lines    []FulfillmentLineRequest
	ActorRef string
}

// FulfillmentLineRequest is one line of a batch
type FulfillmentLineRequest struct {
	LineID   string
	DeltaQty decimal.Decimal
	// Quality is only accepted on receipts.
	Quality *domain.QualityOutcome
}

// FulfillmentResult is the committed order and the document filed for the
// batch
type FulfillmentResult struct {
	Order    *domain.Order               `json:"order"`
	Document *domain.FulfillmentDocument `json:"document"`
}

// RecordReceipt records a goods receipt against an approved order
func (s *FulfillmentService) RecordReceipt(ctx context.Context, req *RecordFulfillmentRequest) (result *FulfillmentResult, err error) {
	defer s.observe("record_receipt", time.Now(), &err)
	return s.record(ctx, domain.DirectionReceipt, req)
}

// RecordReturn records a return against an approved order
func (s *FulfillmentService) RecordReturn(ctx context.Context, req *RecordFulfillmentRequest) (result *FulfillmentResult, err error) {
	defer s.observe("record_return", time.Now(), &err)
	return s.record(ctx, domain.DirectionReturn, req)
}

func documentSeries(direction domain.Direction) string {
	if direction == domain.DirectionReturn {
		return "RN"
	}
	return "GRN"
}

func (s *FulfillmentService) record(ctx context.Context, direction domain.Direction, req *RecordFulfillmentRequest) (*FulfillmentResult, error) {
	if err := validateBatch(direction, req); err != nil {
		return nil, err
	}

	now := s.now()
	var doc *domain.FulfillmentDocument
	before, after, err := s.mutate(ctx, req.OrderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		if err := current.AcceptsFulfillment(); err != nil {
			return nil, err
		}

		batch := make([]domain.FulfillmentEvent, 0, len(req.Lines))
		for _, lr := range req.Lines {
			line, err := current.Line(lr.LineID)
			if err != nil {
				return nil, err
			}
			ev, err := s.buildEvent(current.ID, *line, direction, lr, req.ActorRef, now)
			if err != nil {
				return nil, err
			}
			batch = append(batch, ev)
		}

		next, err := current.ApplyEvents(batch, now)
		if err != nil {
			return nil, err
		}

		series := documentSeries(direction)
		n, err := tx.NextNumber(ctx, series)
		if err != nil {
			return nil, err
		}
		doc = &domain.FulfillmentDocument{
			ID:        s.newID(),
			OrderID:   current.ID,
			Number:    fmt.Sprintf("%s-%06d", series, n),
			Kind:      domain.DocumentKindFor(direction),
			Direction: direction,
			ActorRef:  req.ActorRef,
			CreatedAt: now,
		}
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return nil, err
		}

		for i := range batch {
			batch[i].DocumentID = doc.ID
		}
		recorded, err := tx.AppendEvents(ctx, current.ID, batch)
		if err != nil {
			return nil, err
		}
		doc.Events = recorded
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	action := "received"
	if direction == domain.DirectionReturn {
		action = "returned"
	}
	s.appendAudit(ctx, s.auditEntry(before, after, action, req.ActorRef, now, map[string]any{
		"document_id":     doc.ID,
		"document_number": doc.Number,
		"line_count":      len(doc.Events),
		"total_qty":       doc.TotalQty().String(),
	}))
	s.publish(ctx, events.New(events.OrderFulfillmentChanged, after, req.ActorRef, now, map[string]any{
		"previous_state":  string(before.FulfillmentState),
		"state":           string(after.FulfillmentState),
		"direction":       string(direction),
		"document_id":     doc.ID,
		"document_number": doc.Number,
	}))

	s.log.Info().
		Str("order_id", after.ID).
		Str("order_number", after.Number).
		Str("document_number", doc.Number).
		Str("direction", string(direction)).
		Int("line_count", len(doc.Events)).
		Str("fulfillment_state", string(after.FulfillmentState)).
		Msg("Fulfillment recorded")

	return &FulfillmentResult{Order: after, Document: doc}, nil
}

// validateBatch checks what can be checked without the order
func validateBatch(direction domain.Direction, req *RecordFulfillmentRequest) error {
	if strings.TrimSpace(req.ActorRef) == "" {
		return errors.InvalidInput("actor_ref", "actor is required")
	}
	if len(req.Lines) == 0 {
		return errors.InvalidInput("lines", "batch must contain at least 1 line")
	}

	for i, lr := range req.Lines {
		if strings.TrimSpace(lr.LineID) == "" {
			return errors.InvalidInput("line_id", fmt.Sprintf("line %d: line id is required", i+1))
		}
		if !lr.DeltaQty.IsPositive() {
			return errors.InvalidQuantity("delta_qty",
				fmt.Sprintf("line %d: quantity must be positive, got %s", i+1, lr.DeltaQty.String()))
		}
		if lr.Quality == nil {
			continue
		}
		if direction == domain.DirectionReturn {
			return errors.InvalidInput("quality", fmt.Sprintf("line %d: returns carry no quality outcome", i+1))
		}
		if lr.Quality.RejectedQty.IsNegative() {
			return errors.InvalidQuantity("rejected_qty",
				fmt.Sprintf("line %d: rejected quantity cannot be negative", i+1))
		}
	}
	return nil
}

// buildEvent rounds the requested quantities to the line precision
func (s *FulfillmentService) buildEvent(
	orderID string,
	line domain.OrderLine,
	direction domain.Direction,
	lr FulfillmentLineRequest,
	actor string,
	now time.Time,
) (domain.FulfillmentEvent, error) {
	delta := domain.Normalize(lr.DeltaQty, line.Precision)
	if !delta.IsPositive() {
		return domain.FulfillmentEvent{}, errors.InvalidQuantity("delta_qty",
			fmt.Sprintf("quantity %s rounds to zero for line %d (%s)", lr.DeltaQty.String(), line.LineNumber, line.ItemRef))
	}

	ev := domain.FulfillmentEvent{
		OrderID:    orderID,
		LineID:     line.ID,
		Direction:  direction,
		DeltaQty:   delta,
		ActorRef:   actor,
		OccurredAt: now,
	}
	if lr.Quality != nil {
		ev.Quality = &domain.QualityOutcome{
			RejectedQty: domain.Normalize(lr.Quality.RejectedQty, line.Precision),
			Remarks:     lr.Quality.Remarks,
		}
	}
	return ev, nil
}
