package payment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowpay/server/internal/module/payment/domain"
)

func newTestReconciler(repo Repository) *Reconciler {
	return NewReconciler(repo, zap.NewNop())
}

func pendingPayment() *domain.Payment {
	return domain.NewPayment("order-001", uuid.New(), 10000, "VND", domain.ProviderMoMo)
}

func TestReconciler_Resolve(t *testing.T) {
	r := newTestReconciler(&mockRepository{})

	t.Run("maps known codes", func(t *testing.T) {
		m, ok := r.Resolve(domain.ProviderMoMo, "0")
		require.True(t, ok)
		assert.Equal(t, domain.StatusCompleted, m.Status)

		m, ok = r.Resolve(domain.ProviderVNPay, "24")
		require.True(t, ok)
		assert.Equal(t, domain.StatusCancelled, m.Status)

		m, ok = r.Resolve(domain.ProviderStripe, "payment_intent.succeeded")
		require.True(t, ok)
		assert.Equal(t, domain.StatusCompleted, m.Status)

		m, ok = r.Resolve(domain.ProviderPayPal, "PAYMENT.CAPTURE.COMPLETED")
		require.True(t, ok)
		assert.Equal(t, domain.StatusCompleted, m.Status)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, ok := r.Resolve(domain.ProviderMoMo, "31337")
		assert.False(t, ok)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, ok := r.Resolve(domain.Provider("cash"), "0")
		assert.False(t, ok)
	})
}

func TestReconciler_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("applies a capture", func(t *testing.T) {
		repo := &mockRepository{}
		p := pendingPayment()
		repo.On("GetPayment", ctx, p.ID()).Return(p, nil).Once()
		repo.On("UpdatePaymentIf", ctx, p, domain.StatusPending).Return(true, nil).Once()

		r := newTestReconciler(repo)
		applied, changed, err := r.Apply(ctx, p.ID(), &Observation{
			Provider:    domain.ProviderMoMo,
			Code:        "0",
			ProviderRef: "trans-42",
			EventType:   domain.EventWebhook,
			Raw:         map[string]any{"resultCode": "0"},
		})

		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.StatusCompleted, applied.Status())
		assert.Equal(t, "trans-42", applied.ProviderRef())
		assert.NotNil(t, applied.PaidAt())
		repo.AssertExpectations(t)
	})

	t.Run("terminal payment is untouched", func(t *testing.T) {
		repo := &mockRepository{}
		p := pendingPayment()
		require.NoError(t, p.MarkAsFailed("99", "declined"))
		repo.On("GetPayment", ctx, p.ID()).Return(p, nil).Once()

		r := newTestReconciler(repo)
		applied, changed, err := r.Apply(ctx, p.ID(), &Observation{
			Provider:  domain.ProviderMoMo,
			Code:      "0",
			EventType: domain.EventWebhook,
		})

		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, domain.StatusFailed, applied.Status())
		repo.AssertNotCalled(t, "UpdatePaymentIf", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("same status replay is a no-op", func(t *testing.T) {
		repo := &mockRepository{}
		p := pendingPayment()
		require.NoError(t, p.MarkAsProcessing())
		repo.On("GetPayment", ctx, p.ID()).Return(p, nil).Once()

		r := newTestReconciler(repo)
		_, changed, err := r.Apply(ctx, p.ID(), &Observation{
			Provider:  domain.ProviderMoMo,
			Code:      "9000",
			EventType: domain.EventWebhook,
		})

		require.NoError(t, err)
		assert.False(t, changed)
		repo.AssertNotCalled(t, "UpdatePaymentIf", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("out-of-order report is dropped", func(t *testing.T) {
		repo := &mockRepository{}
		p := pendingPayment()
		require.NoError(t, p.MarkAsCompleted("trans-42"))
		// Remaining balance still refundable, so this is not terminal for
		// refunds but a late processing webhook must not regress it.
		_, err := p.Refund(4000)
		require.NoError(t, err)
		require.Equal(t, domain.StatusPartiallyRefunded, p.Status())
		repo.On("GetPayment", ctx, p.ID()).Return(p, nil).Once()

		r := newTestReconciler(repo)
		_, changed, err := r.Apply(ctx, p.ID(), &Observation{
			Provider:  domain.ProviderMoMo,
			Code:      "9000",
			EventType: domain.EventWebhook,
		})

		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, domain.StatusPartiallyRefunded, p.Status())
	})

	t.Run("unmapped code is ignored", func(t *testing.T) {
		repo := &mockRepository{}
		p := pendingPayment()
		repo.On("GetPayment", ctx, p.ID()).Return(p, nil).Once()

		r := newTestReconciler(repo)
		_, changed, err := r.Apply(ctx, p.ID(), &Observation{
			Provider:  domain.ProviderMoMo,
			Code:      "31337",
			EventType: domain.EventWebhook,
		})

		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, domain.StatusPending, p.Status())
	})

	t.Run("lost conditional update triggers reread", func(t *testing.T) {
		repo := &mockRepository{}
		first := pendingPayment()
		// The concurrent writer moved the row to processing before our
		// write landed; the retry sees the fresh state.
		second := domain.RestorePayment(
			first.ID(), first.OrderID(), first.UserID(), first.Amount(), first.Currency(),
			first.Provider(), domain.StatusProcessing, "", "", nil, nil, 0,
			domain.ProviderData{}, nil, first.CreatedAt(), first.UpdatedAt(),
		)

		repo.On("GetPayment", ctx, first.ID()).Return(first, nil).Once()
		repo.On("UpdatePaymentIf", ctx, mock.Anything, domain.StatusPending).Return(false, nil).Once()
		repo.On("GetPayment", ctx, first.ID()).Return(second, nil).Once()
		repo.On("UpdatePaymentIf", ctx, mock.Anything, domain.StatusProcessing).Return(true, nil).Once()

		r := newTestReconciler(repo)
		applied, changed, err := r.Apply(ctx, first.ID(), &Observation{
			Provider:    domain.ProviderMoMo,
			Code:        "0",
			ProviderRef: "trans-42",
			EventType:   domain.EventWebhook,
		})

		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.StatusCompleted, applied.Status())
		repo.AssertExpectations(t)
	})

	t.Run("gives up after repeated contention", func(t *testing.T) {
		repo := &mockRepository{}
		id := uuid.New()
		// Each reread must see a fresh pending row, not the instance the
		// previous attempt already mutated.
		for i := 0; i < maxApplyAttempts; i++ {
			fresh := pendingPayment()
			repo.On("GetPayment", ctx, id).Return(fresh, nil).Once()
		}
		repo.On("UpdatePaymentIf", ctx, mock.Anything, domain.StatusPending).Return(false, nil).Times(maxApplyAttempts)

		r := newTestReconciler(repo)
		_, _, err := r.Apply(ctx, id, &Observation{
			Provider:  domain.ProviderMoMo,
			Code:      "0",
			EventType: domain.EventWebhook,
		})

		assert.Error(t, err)
		repo.AssertExpectations(t)
	})
}
