package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
	"github.com/pesio-ai/be-scm-fulfillment/internal/repository"
)

// SubmitRequest represents a submit for approval request
type SubmitRequest struct {
	OrderID  string
	ActorRef string
}

// ApproveRequest represents an approve order request
type ApproveRequest struct {
	OrderID     string
	ApproverRef string
}

// RejectRequest represents a reject order request
type RejectRequest struct {
	OrderID     string
	ApproverRef string
	Reason      string
}

// CancelRequest represents a cancel order request
type CancelRequest struct {
	OrderID  string
	ActorRef string
	Reason   string
}

// DispatchRequest represents a mark dispatched request
type DispatchRequest struct {
	OrderID  string
	Channel  string
	ActorRef string
}

// ── Submit ───────────────────────────────────────────────────────────────────

// SubmitForApproval moves a DRAFT order to PENDING_APPROVAL
func (s *FulfillmentService) SubmitForApproval(ctx context.Context, req *SubmitRequest) (order *domain.Order, err error) {
	defer s.observe("submit", time.Now(), &err)

	now := s.now()
	before, after, err := s.mutate(ctx, req.OrderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		next := current.Clone()
		if err := next.SubmitForApproval(req.ActorRef, now); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, s.auditEntry(before, after, "submitted", req.ActorRef, now, nil))
	s.publish(ctx, events.New(events.OrderSubmitted, after, req.ActorRef, now, nil))

	s.log.Info().
		Str("order_id", after.ID).
		Str("order_number", after.Number).
		Str("submitted_by", req.ActorRef).
		Msg("Order submitted for approval")

	return after, nil
}

// ── Approve ──────────────────────────────────────────────────────────────────

// Approve approves a pending order. Fulfillment is accepted from here on.
func (s *FulfillmentService) Approve(ctx context.Context, req *ApproveRequest) (order *domain.Order, err error) {
	defer s.observe("approve", time.Now(), &err)

	now := s.now()
	before, after, err := s.mutate(ctx, req.OrderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		next := current.Clone()
		if err := next.Approve(req.ApproverRef, now); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, s.auditEntry(before, after, "approved", req.ApproverRef, now, nil))
	s.publish(ctx, events.New(events.OrderApproved, after, req.ApproverRef, now, map[string]any{
		"total_value": after.TotalValue().StringFixed(2),
	}))

	s.log.Info().
		Str("order_id", after.ID).
		Str("order_number", after.Number).
		Str("approved_by", req.ApproverRef).
		Msg("Order approved")

	return after, nil
}

// ── Reject ───────────────────────────────────────────────────────────────────

// Reject rejects a pending order with a mandatory reason
func (s *FulfillmentService) Reject(ctx context.Context, req *RejectRequest) (order *domain.Order, err error) {
	defer s.observe("reject", time.Now(), &err)

	now := s.now()
	before, after, err := s.mutate(ctx, req.OrderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		next := current.Clone()
		if err := next.Reject(req.ApproverRef, req.Reason, now); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, s.auditEntry(before, after, "rejected", req.ApproverRef, now, map[string]any{
		"reason": req.Reason,
	}))
	s.publish(ctx, events.New(events.OrderRejected, after, req.ApproverRef, now, map[string]any{
		"reason": req.Reason,
	}))

	s.log.Info().
		Str("order_id", after.ID).
		Str("order_number", after.Number).
		Str("rejected_by", req.ApproverRef).
		Str("reason", req.Reason).
		Msg("Order rejected")

	return after, nil
}

// ── Cancel ───────────────────────────────────────────────────────────────────

// Cancel cancels an order that is not complete. Recorded fulfillment stays
// as it is.
func (s *FulfillmentService) Cancel(ctx context.Context, req *CancelRequest) (order *domain.Order, err error) {
	defer s.observe("cancel", time.Now(), &err)

	now := s.now()
	before, after, err := s.mutate(ctx, req.OrderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		next := current.Clone()
		if err := next.Cancel(req.ActorRef, req.Reason, now); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, s.auditEntry(before, after, "cancelled", req.ActorRef, now, map[string]any{
		"reason": req.Reason,
	}))
	s.publish(ctx, events.New(events.OrderCancelled, after, req.ActorRef, now, map[string]any{
		"reason":            req.Reason,
		"previous_state":    string(before.ApprovalState),
		"fulfillment_state": string(after.FulfillmentState),
	}))

	s.log.Info().
		Str("order_id", after.ID).
		Str("order_number", after.Number).
		Str("cancelled_by", req.ActorRef).
		Str("fulfillment_state", string(after.FulfillmentState)).
		Msg("Order cancelled")

	return after, nil
}

// ── Dispatch ─────────────────────────────────────────────────────────────────

// MarkDispatched records that an approved order was sent to the
// counterparty. Repeating the call is a no-op that reports false.
func (s *FulfillmentService) MarkDispatched(ctx context.Context, req *DispatchRequest) (order *domain.Order, changed bool, err error) {
	defer s.observe("dispatch", time.Now(), &err)

	now := s.now()
	before, after, err := s.mutate(ctx, req.OrderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		next := current.Clone()
		ok, err := next.MarkDispatched(req.Channel, req.ActorRef, now)
		if err != nil || !ok {
			return nil, err
		}
		changed = true
		return next, nil
	})
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return after, false, nil
	}

	s.appendAudit(ctx, s.auditEntry(before, after, "dispatched", req.ActorRef, now, map[string]any{
		"channel": req.Channel,
	}))
	s.publish(ctx, events.New(events.OrderDispatched, after, req.ActorRef, now, map[string]any{
		"channel": req.Channel,
	}))

	s.log.Info().
		Str("order_id", after.ID).
		Str("order_number", after.Number).
		Str("channel", req.Channel).
		Msg("Order dispatched")

	return after, true, nil
}

// ── Finalize ─────────────────────────────────────────────────────────────────

// Finalize asserts that the order is complete. It changes nothing.
func (s *FulfillmentService) Finalize(ctx context.Context, orderID string) (order *domain.Order, err error) {
	defer s.observe("finalize", time.Now(), &err)

	order, err = s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.FulfillmentState != domain.FulfillmentComplete {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"order %s is not complete (state %s)", order.Number, order.FulfillmentState)
	}
	return order, nil
}
