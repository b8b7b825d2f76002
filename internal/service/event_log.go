package service

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
	"github.com/pesio-ai/be-scm-fulfillment/internal/repository"
)

// ReplayReport compares the cached order with a replay of its event log
type ReplayReport struct {
	OrderID     string                  `json:"order_id"`
	EventCount  int                     `json:"event_count"`
	Consistent  bool                    `json:"consistent"`
	Cached      *domain.Order           `json:"cached"`
	Replayed    *domain.Order           `json:"replayed"`
	Divergences []domain.LineDivergence `json:"divergences"`
}

// ListEvents returns the fulfillment log of an order in sequence order
func (s *FulfillmentService) ListEvents(ctx context.Context, orderID string) ([]domain.FulfillmentEvent, error) {
	return s.store.ListEvents(ctx, orderID)
}

// GetDocument retrieves a receipt or return document with its events
func (s *FulfillmentService) GetDocument(ctx context.Context, id string) (*domain.FulfillmentDocument, error) {
	return s.store.GetDocument(ctx, id)
}

// History returns the audit trail of an order, oldest first
func (s *FulfillmentService) History(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, orderID)
}

// Replay folds the event log over the order baseline and reports where the
// cached line state disagrees. Nothing is written.
func (s *FulfillmentService) Replay(ctx context.Context, orderID string) (report *ReplayReport, err error) {
	defer s.observe("replay", time.Now(), &err)

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log, err := s.store.ListEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return replayReport(order, log)
}

func replayReport(order *domain.Order, log []domain.FulfillmentEvent) (*ReplayReport, error) {
	replayed, err := domain.Replay(order, log)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "event log does not replay")
	}
	divergences := domain.Diverged(order, replayed)
	return &ReplayReport{
		OrderID:     order.ID,
		EventCount:  len(log),
		Consistent:  len(divergences) == 0 && order.FulfillmentState == replayed.FulfillmentState,
		Cached:      order,
		Replayed:    replayed,
		Divergences: divergences,
	}, nil
}

// Rebuild replaces the cached line state with the replayed event log. It is
// the recovery path when Replay reports divergence; a consistent order is
// left untouched.
func (s *FulfillmentService) Rebuild(ctx context.Context, orderID, actor string) (report *ReplayReport, err error) {
	defer s.observe("rebuild", time.Now(), &err)

	if strings.TrimSpace(actor) == "" {
		return nil, errors.InvalidInput("actor_ref", "actor is required")
	}

	now := s.now()
	before, after, err := s.mutate(ctx, orderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		log, err := s.store.ListEvents(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		report, err = replayReport(current, log)
		if err != nil {
			return nil, err
		}
		if report.Consistent {
			return nil, nil
		}
		next := report.Replayed.Clone()
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if report.Consistent {
		return report, nil
	}

	s.appendAudit(ctx, s.auditEntry(before, after, "rebuilt", actor, now, map[string]any{
		"event_count":    report.EventCount,
		"diverged_lines": len(report.Divergences),
	}))
	if before.FulfillmentState != after.FulfillmentState {
		s.publish(ctx, events.New(events.OrderFulfillmentChanged, after, actor, now, map[string]any{
			"previous_state": string(before.FulfillmentState),
			"state":          string(after.FulfillmentState),
			"rebuilt":        true,
		}))
	}

	s.log.Warn().
		Str("order_id", after.ID).
		Str("order_number", after.Number).
		Int("diverged_lines", len(report.Divergences)).
		Msg("Order rebuilt from event log")

	report.Replayed = after
	return report, nil
}
