package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

var storeNow = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

func testOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	line, err := domain.NewOrderLine(id+"-l1", domain.LineSpec{
		ItemRef:      "CLOTH-01",
		Unit:         "m",
		UnitKind:     domain.UnitMeasured,
		CommittedQty: decimal.RequireFromString("50.5"),
		UnitValue:    decimal.RequireFromString("3.20"),
	}, domain.DefaultPrecision)
	require.NoError(t, err)

	order, err := domain.NewOrder(id, "PO-"+id, domain.KindPurchaseOrder, "vendor-1", "alice", []domain.OrderLine{line}, storeNow)
	require.NoError(t, err)
	return order
}

func createOrder(t *testing.T, s Store, order *domain.Order) {
	t.Helper()
	err := s.InTransaction(context.Background(), func(tx Tx) error {
		return tx.CreateOrder(context.Background(), order)
	})
	require.NoError(t, err)
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	order := testOrder(t, "o1")
	createOrder(t, s, order)

	got, err := s.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "PO-o1", got.Number)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "50.5", got.Lines[0].CommittedQty.String())

	got.Lines[0].FulfilledQty = decimal.NewFromInt(9)
	again, err := s.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, again.Lines[0].FulfilledQty.IsZero(), "callers get copies")

	_, err = s.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	createOrder(t, s, testOrder(t, "o1"))

	err := s.InTransaction(context.Background(), func(tx Tx) error {
		return tx.CreateOrder(context.Background(), testOrder(t, "o1"))
	})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	createOrder(t, s, testOrder(t, "o1"))
	ctx := context.Background()

	err := s.InTransaction(ctx, func(tx Tx) error {
		order, err := tx.LockOrder(ctx, "o1")
		if err != nil {
			return err
		}
		require.NoError(t, order.SubmitForApproval("alice", storeNow))
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		return errors.New(errors.ErrCodeInternal, "boom")
	})
	require.Error(t, err)

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalDraft, got.ApprovalState)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStore_LockContention(t *testing.T) {
	s := NewMemoryStore()
	createOrder(t, s, testOrder(t, "o1"))
	createOrder(t, s, testOrder(t, "o2"))
	ctx := context.Background()

	err := s.InTransaction(ctx, func(tx Tx) error {
		_, err := tx.LockOrder(ctx, "o1")
		require.NoError(t, err)

		inner := s.InTransaction(ctx, func(tx2 Tx) error {
			_, err := tx2.LockOrder(ctx, "o1")
			return err
		})
		assert.ErrorIs(t, inner, errors.ErrLockContention)

		other := s.InTransaction(ctx, func(tx2 Tx) error {
			_, err := tx2.LockOrder(ctx, "o2")
			return err
		})
		assert.NoError(t, other, "different orders never share a lock")
		return nil
	})
	require.NoError(t, err)

	err = s.InTransaction(ctx, func(tx Tx) error {
		_, err := tx.LockOrder(ctx, "o1")
		return err
	})
	assert.NoError(t, err, "lock is released after the transaction")
}

func TestMemoryStore_VersionMismatch(t *testing.T) {
	s := NewMemoryStore()
	createOrder(t, s, testOrder(t, "o1"))
	ctx := context.Background()

	err := s.InTransaction(ctx, func(tx Tx) error {
		order, err := tx.LockOrder(ctx, "o1")
		require.NoError(t, err)
		order.Version = 7
		return tx.SaveOrder(ctx, order)
	})
	assert.ErrorIs(t, err, errors.ErrLockContention)
}

func TestMemoryStore_EventSequence(t *testing.T) {
	s := NewMemoryStore()
	createOrder(t, s, testOrder(t, "o1"))
	ctx := context.Background()

	appendBatch := func(n int) []domain.FulfillmentEvent {
		var out []domain.FulfillmentEvent
		err := s.InTransaction(ctx, func(tx Tx) error {
			if _, err := tx.LockOrder(ctx, "o1"); err != nil {
				return err
			}
			batch := make([]domain.FulfillmentEvent, n)
			for i := range batch {
				batch[i] = domain.FulfillmentEvent{LineID: "o1-l1", DocumentID: "d", Direction: domain.DirectionReceipt, DeltaQty: decimal.NewFromInt(1)}
			}
			var err error
			out, err = tx.AppendEvents(ctx, "o1", batch)
			return err
		})
		require.NoError(t, err)
		return out
	}

	first := appendBatch(2)
	second := appendBatch(3)
	assert.Equal(t, int64(1), first[0].SequenceNo)
	assert.Equal(t, int64(2), first[1].SequenceNo)
	assert.Equal(t, int64(3), second[0].SequenceNo)
	assert.Equal(t, int64(5), second[2].SequenceNo)
	assert.NotEmpty(t, first[0].ID)

	events, err := s.ListEvents(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.SequenceNo)
		assert.Equal(t, "o1", ev.OrderID)
	}

	_, err = s.ListEvents(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryStore_AppendEventsRequiresLock(t *testing.T) {
	s := NewMemoryStore()
	createOrder(t, s, testOrder(t, "o1"))

	err := s.InTransaction(context.Background(), func(tx Tx) error {
		_, err := tx.AppendEvents(context.Background(), "o1", []domain.FulfillmentEvent{{LineID: "o1-l1"}})
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInternal)
}

func TestMemoryStore_Documents(t *testing.T) {
	s := NewMemoryStore()
	createOrder(t, s, testOrder(t, "o1"))
	ctx := context.Background()

	err := s.InTransaction(ctx, func(tx Tx) error {
		if _, err := tx.LockOrder(ctx, "o1"); err != nil {
			return err
		}
		n, err := tx.NextNumber(ctx, "GRN")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		if err := tx.SaveDocument(ctx, &domain.FulfillmentDocument{
			ID:        "d1",
			OrderID:   "o1",
			Number:    "GRN-000001",
			Kind:      domain.DocumentGoodsReceipt,
			Direction: domain.DirectionReceipt,
		}); err != nil {
			return err
		}
		_, err = tx.AppendEvents(ctx, "o1", []domain.FulfillmentEvent{
			{LineID: "o1-l1", DocumentID: "d1", Direction: domain.DirectionReceipt, DeltaQty: decimal.NewFromInt(2)},
			{LineID: "o1-l1", DocumentID: "d1", Direction: domain.DirectionReceipt, DeltaQty: decimal.NewFromInt(3)},
			{LineID: "o1-l1", DocumentID: "other", Direction: domain.DirectionReceipt, DeltaQty: decimal.NewFromInt(7)},
		})
		return err
	})
	require.NoError(t, err)

	doc, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "GRN-000001", doc.Number)
	require.Len(t, doc.Events, 2)
	assert.Equal(t, "5", doc.TotalQty().String())

	_, err = s.GetDocument(ctx, "d2")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryStore_ListOrders(t *testing.T) {
	s := NewMemoryStore()
	for i, id := range []string{"a", "b", "c"} {
		order := testOrder(t, id)
		order.CreatedAt = storeNow.Add(time.Duration(i) * time.Minute)
		createOrder(t, s, order)
	}
	ctx := context.Background()

	orders, total, err := s.ListOrders(ctx, OrderFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, orders, 2)
	assert.Equal(t, "c", orders[0].ID)
	assert.Equal(t, "b", orders[1].ID)

	orders, _, err = s.ListOrders(ctx, OrderFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "a", orders[0].ID)

	pending := domain.ApprovalPending
	orders, total, err = s.ListOrders(ctx, OrderFilter{ApprovalState: &pending})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, orders)
}

func TestMemoryStore_Audit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, &AuditEntry{OrderID: "o1", Action: "created", PerformedBy: "alice"}))
	require.NoError(t, s.AppendAudit(ctx, &AuditEntry{OrderID: "o1", Action: "submitted", PerformedBy: "alice"}))

	entries, err := s.ListAudit(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "created", entries[0].Action)
	assert.NotEmpty(t, entries[0].ID)
}
