package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
	"github.com/pesio-ai/be-scm-fulfillment/internal/lock"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
	"github.com/pesio-ai/be-scm-fulfillment/internal/metrics"
	"github.com/pesio-ai/be-scm-fulfillment/internal/repository"
)

// FulfillmentService is the workflow orchestrator. Every mutating call runs
// against exactly one order: take the order lock, open a store transaction,
// lock the row, compute, save with a version check, commit, then audit and
// publish.
type FulfillmentService struct {
	store     repository.Store
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	precision domain.Precision
	log       *logger.Logger

	now   func() time.Time
	newID func() string
}

// NewFulfillmentService creates a new fulfillment service. publisher and m
// may be nil.
func NewFulfillmentService(
	store repository.Store,
	locker lock.Locker,
	publisher events.Publisher,
	m *metrics.Metrics,
	precision domain.Precision,
	log *logger.Logger,
) *FulfillmentService {
	if publisher == nil {
		publisher = events.MultiPublisher{}
	}
	return &FulfillmentService{
		store:     store,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		precision: precision,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// CreateOrderRequest represents a create order request
type CreateOrderRequest struct {
	Kind            domain.OrderKind
	CounterpartyRef string
	Lines           []LineRequest
	CreatedBy       string
}

// LineRequest represents one order line in a request
type LineRequest struct {
	ItemRef      string
	Description  string
	Unit         string
	UnitKind     domain.UnitKind
	CommittedQty decimal.Decimal
	UnitValue    decimal.Decimal
	LineTotal    *decimal.Decimal
}

func (r LineRequest) spec() domain.LineSpec {
	return domain.LineSpec{
		ItemRef:      r.ItemRef,
		Description:  r.Description,
		Unit:         r.Unit,
		UnitKind:     r.UnitKind,
		CommittedQty: r.CommittedQty,
		UnitValue:    r.UnitValue,
		LineTotal:    r.LineTotal,
	}
}

// AddLineRequest represents an add line request
type AddLineRequest struct {
	OrderID  string
	Line     LineRequest
	ActorRef string
}

// CreateOrder creates a DRAFT order and assigns its number
func (s *FulfillmentService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (order *domain.Order, err error) {
	defer s.observe("create_order", time.Now(), &err)

	if !req.Kind.IsValid() {
		return nil, errors.InvalidInput("kind", fmt.Sprintf("unknown order kind %q", req.Kind))
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return nil, errors.InvalidInput("created_by", "creator is required")
	}

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	for i, lr := range req.Lines {
		line, err := domain.NewOrderLine(s.newID(), lr.spec(), s.precision)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeOf(err), fmt.Sprintf("line %d", i+1))
		}
		lines = append(lines, line)
	}

	now := s.now()
	order, err = domain.NewOrder(s.newID(), "", req.Kind, req.CounterpartyRef, req.CreatedBy, lines, now)
	if err != nil {
		return nil, err
	}

	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		n, err := tx.NextNumber(ctx, req.Kind.NumberPrefix())
		if err != nil {
			return err
		}
		order.Number = fmt.Sprintf("%s-%06d", req.Kind.NumberPrefix(), n)
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		OrderID:     order.ID,
		Action:      "created",
		PerformedBy: req.CreatedBy,
		PerformedAt: now,
		StatusAfter: strPtr(string(order.ApprovalState)),
		Metadata: map[string]any{
			"line_count":  len(order.Lines),
			"total_value": order.TotalValue().StringFixed(2),
		},
	})
	s.publish(ctx, events.New(events.OrderCreated, order, req.CreatedBy, now, map[string]any{
		"counterparty_ref": order.CounterpartyRef,
		"line_count":       len(order.Lines),
	}))

	s.log.Info().
		Str("order_id", order.ID).
		Str("order_number", order.Number).
		Str("kind", string(order.Kind)).
		Str("counterparty_ref", order.CounterpartyRef).
		Int("line_count", len(order.Lines)).
		Msg("Order created")

	return order, nil
}

// AddLine appends a line to an order that still accepts lines
func (s *FulfillmentService) AddLine(ctx context.Context, req *AddLineRequest) (order *domain.Order, err error) {
	defer s.observe("add_line", time.Now(), &err)

	if strings.TrimSpace(req.ActorRef) == "" {
		return nil, errors.InvalidInput("actor_ref", "actor is required")
	}
	line, err := domain.NewOrderLine(s.newID(), req.Line.spec(), s.precision)
	if err != nil {
		return nil, err
	}

	now := s.now()
	before, after, err := s.mutate(ctx, req.OrderID, func(tx repository.Tx, current *domain.Order) (*domain.Order, error) {
		next := current.Clone()
		if err := next.AddLine(line, now); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, s.auditEntry(before, after, "line_added", req.ActorRef, now, map[string]any{
		"line_id":       line.ID,
		"item_ref":      line.ItemRef,
		"committed_qty": line.CommittedQty.String(),
	}))

	s.log.Info().
		Str("order_id", after.ID).
		Str("line_id", line.ID).
		Str("item_ref", line.ItemRef).
		Msg("Order line added")

	return after, nil
}

// GetOrder retrieves an order by ID
func (s *FulfillmentService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders lists orders with filtering and pagination
func (s *FulfillmentService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]*domain.Order, int64, error) {
	return s.store.ListOrders(ctx, filter)
}

// ── shared plumbing ──────────────────────────────────────────────────────────

// mutateFunc computes the next state of a locked order. Returning a nil order
// means nothing changed and nothing is saved.
type mutateFunc func(tx repository.Tx, current *domain.Order) (*domain.Order, error)

// mutate runs fn under the order lock and the row lock, and saves its result
// with a version check. before is the state read under the lock; after is the
// committed state.
func (s *FulfillmentService) mutate(ctx context.Context, orderID string, fn mutateFunc) (before, after *domain.Order, err error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, nil, errors.InvalidInput("order_id", "order id is required")
	}

	release, err := s.locker.Acquire(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		before = current.Clone()

		next, err := fn(tx, current)
		if err != nil {
			return err
		}
		if next == nil {
			after = current
			return nil
		}
		if err := tx.SaveOrder(ctx, next); err != nil {
			return err
		}
		after = next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func (s *FulfillmentService) auditEntry(before, after *domain.Order, action, actor string, at time.Time, metadata map[string]any) *repository.AuditEntry {
	return &repository.AuditEntry{
		OrderID:           after.ID,
		Action:            action,
		PerformedBy:       actor,
		PerformedAt:       at,
		StatusBefore:      strPtr(string(before.ApprovalState)),
		StatusAfter:       strPtr(string(after.ApprovalState)),
		FulfillmentBefore: strPtr(string(before.FulfillmentState)),
		FulfillmentAfter:  strPtr(string(after.FulfillmentState)),
		Metadata:          metadata,
	}
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *FulfillmentService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.Warn().
			Err(err).
			Str("order_id", entry.OrderID).
			Str("action", entry.Action).
			Msg("Failed to write order audit entry")
	}
}

// publish hands ev to the publisher after commit. Delivery failures are
// logged; the mutation already happened.
func (s *FulfillmentService) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("order_id", ev.OrderID).
			Msg("Failed to publish domain event")
	}
}

func (s *FulfillmentService) observe(operation string, started time.Time, err *error) {
	s.metrics.ObserveOperation(operation, started, *err)
}

func strPtr(v string) *string {
	return &v
}
