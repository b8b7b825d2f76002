package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
)

func testEvent(typ Type) Event {
	order := &domain.Order{ID: "o1", Number: "PO-000001", Kind: domain.KindPurchaseOrder}
	return New(typ, order, "alice", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), map[string]any{"k": "v"})
}

func TestNew(t *testing.T) {
	ev := testEvent(OrderApproved)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "o1", ev.OrderID)
	assert.Equal(t, "PO-000001", ev.OrderNumber)
	assert.Equal(t, domain.KindPurchaseOrder, ev.OrderKind)
	assert.Equal(t, "alice", ev.ActorRef)
}

func TestBus_FiltersByType(t *testing.T) {
	bus := NewBus(logger.Nop())
	var all, approvals []Type

	bus.Subscribe(func(ctx context.Context, ev Event) error {
		all = append(all, ev.Type)
		return nil
	})
	bus.Subscribe(func(ctx context.Context, ev Event) error {
		approvals = append(approvals, ev.Type)
		return nil
	}, OrderApproved, OrderRejected)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, testEvent(OrderCreated)))
	require.NoError(t, bus.Publish(ctx, testEvent(OrderApproved)))

	assert.Equal(t, []Type{OrderCreated, OrderApproved}, all)
	assert.Equal(t, []Type{OrderApproved}, approvals)
}

func TestBus_FailingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := NewBus(logger.Nop())
	delivered := 0

	bus.Subscribe(func(ctx context.Context, ev Event) error { return errors.New("read model down") })
	bus.Subscribe(func(ctx context.Context, ev Event) error {
		delivered++
		return nil
	})

	assert.NoError(t, bus.Publish(context.Background(), testEvent(OrderCancelled)))
	assert.Equal(t, 1, delivered)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, ev Event) error { return f.err }

func TestMultiPublisher(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("broker unavailable")
	multi := MultiPublisher{failingPublisher{err: boom}, rec}

	err := multi.Publish(context.Background(), testEvent(OrderFulfillmentChanged))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []Type{OrderFulfillmentChanged}, rec.Types())

	assert.NoError(t, MultiPublisher{rec}.Publish(context.Background(), testEvent(OrderCreated)))
	assert.Len(t, rec.Events(), 2)
}
