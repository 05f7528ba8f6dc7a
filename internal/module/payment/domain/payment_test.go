package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(t *testing.T) *Payment {
	t.Helper()
	return NewPayment("order-001", uuid.New(), 10000, "VND", ProviderMoMo)
}

func TestNewPayment(t *testing.T) {
	p := newTestPayment(t)

	assert.NotEqual(t, uuid.Nil, p.ID())
	assert.Equal(t, "order-001", p.OrderID())
	assert.Equal(t, int64(10000), p.Amount())
	assert.Equal(t, StatusPending, p.Status())
	assert.Nil(t, p.PaidAt())
	assert.Zero(t, p.RefundedAmount())
}

func TestPayment_MarkAsCompleted(t *testing.T) {
	t.Run("from pending", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkAsCompleted("txn-1"))

		assert.Equal(t, StatusCompleted, p.Status())
		assert.Equal(t, "txn-1", p.ProviderRef())
		require.NotNil(t, p.PaidAt())
	})

	t.Run("empty ref keeps existing ref", func(t *testing.T) {
		p := newTestPayment(t)
		p.SetProviderRef("txn-original")
		require.NoError(t, p.MarkAsCompleted(""))
		assert.Equal(t, "txn-original", p.ProviderRef())
	})

	t.Run("paid time is set once", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkAsCompleted("txn-1"))
		first := *p.PaidAt()

		// A replayed completion must not move the capture time.
		time.Sleep(time.Millisecond)
		err := p.MarkAsCompleted("txn-1")
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
		assert.Equal(t, first, *p.PaidAt())
	})

	t.Run("rejected after failure", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkAsFailed("99", "declined"))

		err := p.MarkAsCompleted("txn-1")
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
		assert.Equal(t, StatusFailed, p.Status())
	})
}

func TestPayment_MarkAsFailed(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.MarkAsFailed("1006", "user denied"))

	assert.Equal(t, StatusFailed, p.Status())
	require.NotNil(t, p.FailureCode())
	assert.Equal(t, "1006", *p.FailureCode())
	require.NotNil(t, p.FailureMessage())
	assert.Equal(t, "user denied", *p.FailureMessage())
}

func TestPayment_Refund(t *testing.T) {
	completed := func(t *testing.T) *Payment {
		p := newTestPayment(t)
		require.NoError(t, p.MarkAsCompleted("txn-1"))
		return p
	}

	t.Run("partial refund", func(t *testing.T) {
		p := completed(t)
		refunded, err := p.Refund(4000)
		require.NoError(t, err)

		assert.Equal(t, int64(4000), refunded)
		assert.Equal(t, StatusPartiallyRefunded, p.Status())
		assert.Equal(t, int64(6000), p.RemainingRefundable())
	})

	t.Run("full refund", func(t *testing.T) {
		p := completed(t)
		refunded, err := p.Refund(10000)
		require.NoError(t, err)

		assert.Equal(t, int64(10000), refunded)
		assert.Equal(t, StatusRefunded, p.Status())
		assert.Zero(t, p.RemainingRefundable())
	})

	t.Run("zero amount refunds remaining balance", func(t *testing.T) {
		p := completed(t)
		_, err := p.Refund(3000)
		require.NoError(t, err)

		refunded, err := p.Refund(0)
		require.NoError(t, err)
		assert.Equal(t, int64(7000), refunded)
		assert.Equal(t, StatusRefunded, p.Status())
	})

	t.Run("cumulative refunds settle the payment", func(t *testing.T) {
		p := completed(t)

		_, err := p.Refund(4000)
		require.NoError(t, err)
		assert.Equal(t, StatusPartiallyRefunded, p.Status())

		_, err = p.Refund(6000)
		require.NoError(t, err)
		assert.Equal(t, StatusRefunded, p.Status())

		_, err = p.Refund(1)
		assert.ErrorIs(t, err, ErrPaymentNotRefundable)
	})

	t.Run("rejects amount over remaining balance", func(t *testing.T) {
		p := completed(t)
		_, err := p.Refund(4000)
		require.NoError(t, err)

		_, err = p.Refund(6001)
		assert.ErrorIs(t, err, ErrInvalidRefundAmount)
		assert.Equal(t, int64(4000), p.RefundedAmount())
	})

	t.Run("rejects negative amount", func(t *testing.T) {
		p := completed(t)
		_, err := p.Refund(-1)
		assert.ErrorIs(t, err, ErrInvalidRefundAmount)
	})

	t.Run("rejects non-refundable status", func(t *testing.T) {
		p := newTestPayment(t)
		_, err := p.Refund(1000)
		assert.ErrorIs(t, err, ErrPaymentNotRefundable)
	})
}

func TestPayment_RecordRefund(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.MarkAsCompleted("txn-1"))

	p.RecordRefund(RefundRecord{ID: "rf-1", Amount: 4000, CreatedAt: time.Now()})
	p.RecordRefund(RefundRecord{ID: "rf-2", Amount: 6000, CreatedAt: time.Now()})

	refunds := p.ProviderData().Refunds
	require.Len(t, refunds, 2)
	assert.Equal(t, "rf-1", refunds[0].ID)
	assert.Equal(t, "rf-2", refunds[1].ID)
}

func TestRestorePayment(t *testing.T) {
	id := uuid.New()
	userID := uuid.New()
	paidAt := time.Now().Add(-time.Hour)
	created := time.Now().Add(-2 * time.Hour)

	p := RestorePayment(
		id, "order-x", userID, 5000, "USD", ProviderStripe,
		StatusPartiallyRefunded, "pi_123", "", nil, nil, 2000,
		ProviderData{Refunds: []RefundRecord{{ID: "rf-1", Amount: 2000}}},
		&paidAt, created, created,
	)

	assert.Equal(t, id, p.ID())
	assert.Equal(t, StatusPartiallyRefunded, p.Status())
	assert.Equal(t, int64(3000), p.RemainingRefundable())
	require.NotNil(t, p.PaidAt())
	assert.Len(t, p.ProviderData().Refunds, 1)
}
