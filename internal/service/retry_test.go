package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
)

func TestRetryOnContention_RetriesUntilFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.approved(t, domain.KindPurchaseOrder, "100")

	release, err := f.locker.Acquire(ctx, order.ID)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	var calls atomic.Int32
	res, err := RetryOnContention(ctx, 20, func(ctx context.Context) (*FulfillmentResult, error) {
		calls.Add(1)
		return f.svc.RecordReceipt(ctx, receiptOf(order, 0, "25"))
	})
	require.NoError(t, err)
	assert.Equal(t, "25", res.Order.Lines[0].FulfilledQty.String())
	assert.Greater(t, calls.Load(), int32(1))
}

func TestRetryOnContention_StopsOnDomainError(t *testing.T) {
	var calls int
	_, err := RetryOnContention(context.Background(), 5, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New(errors.ErrCodeOverFulfillment, "too much")
	})
	assert.ErrorIs(t, err, errors.ErrOverFulfillment)
	assert.Equal(t, 1, calls)
}

func TestRetryOnContention_GivesUp(t *testing.T) {
	var calls int
	_, err := RetryOnContention(context.Background(), 3, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.LockContention("o1")
	})
	assert.ErrorIs(t, err, errors.ErrLockContention)
	assert.Equal(t, 3, calls)
}
