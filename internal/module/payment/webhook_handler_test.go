package payment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowpay/server/internal/module/payment/domain"
	"github.com/flowpay/server/internal/module/payment/provider"
)

func newWebhookRouter(repo Repository, providers ...provider.Provider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	registry := NewProviderRegistry()
	for _, p := range providers {
		registry.Register(p)
	}
	logger := zap.NewNop()
	h := NewWebhookHandler(repo, registry, NewReconciler(repo, logger), testMetrics, logger)

	r := gin.New()
	h.RegisterRoutes(r.Group("/webhooks"))
	return r
}

func postWebhook(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_UnknownProvider(t *testing.T) {
	r := newWebhookRouter(&mockRepository{})
	w := postWebhook(r, "/webhooks/payments/cash", "{}")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	t.Run("default rejection", func(t *testing.T) {
		repo := &mockRepository{}
		prov := &fakeProvider{name: domain.ProviderMoMo, notifyErr: provider.ErrInvalidSignature}
		r := newWebhookRouter(repo, prov)

		w := postWebhook(r, "/webhooks/payments/momo", `{"orderId":"order-001"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		// Nothing read, nothing written.
		repo.AssertNotCalled(t, "GetPaymentByOrderID", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "UpdatePaymentIf", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("vnpay answers its own error envelope", func(t *testing.T) {
		repo := &mockRepository{}
		prov := &fakeProvider{name: domain.ProviderVNPay, notifyErr: provider.ErrInvalidSignature}
		r := newWebhookRouter(repo, prov)

		w := postWebhook(r, "/webhooks/payments/vnpay", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"RspCode":"97"`)
	})
}

func TestWebhookHandler_UnknownOrder(t *testing.T) {
	t.Run("default rejection", func(t *testing.T) {
		repo := &mockRepository{}
		repo.On("GetPaymentByOrderID", mock.Anything, "ghost").Return(nil, ErrPaymentNotFound).Once()
		prov := &fakeProvider{
			name:   domain.ProviderMoMo,
			notify: &provider.NotifyResult{EventID: "ev-1", OrderID: "ghost", Code: "0"},
		}
		r := newWebhookRouter(repo, prov)

		w := postWebhook(r, "/webhooks/payments/momo", "{}")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("vnpay answers its own error envelope", func(t *testing.T) {
		repo := &mockRepository{}
		repo.On("GetPaymentByOrderID", mock.Anything, "ghost").Return(nil, ErrPaymentNotFound).Once()
		prov := &fakeProvider{
			name:   domain.ProviderVNPay,
			notify: &provider.NotifyResult{EventID: "ev-1", OrderID: "ghost", Code: "00"},
		}
		r := newWebhookRouter(repo, prov)

		w := postWebhook(r, "/webhooks/payments/vnpay", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"RspCode":"01"`)
	})
}

func TestWebhookHandler_Capture(t *testing.T) {
	repo := &mockRepository{}
	p := domain.NewPayment("order-001", uuid.New(), 10000, "VND", domain.ProviderMoMo)
	repo.On("GetPaymentByOrderID", mock.Anything, "order-001").Return(p, nil).Once()
	repo.On("EventSeen", mock.Anything, domain.ProviderMoMo, "ev-1").Return(false, nil).Once()
	repo.On("GetPayment", mock.Anything, p.ID()).Return(p, nil).Once()
	repo.On("UpdatePaymentIf", mock.Anything, mock.Anything, domain.StatusPending).Return(true, nil).Once()

	var audited *domain.PaymentEvent
	repo.On("AppendEvent", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		audited = args.Get(1).(*domain.PaymentEvent)
	}).Return(nil).Once()

	ack := `{"partnerCode":"PC","requestId":"ev-1","orderId":"order-001","resultCode":0}`
	prov := &fakeProvider{
		name: domain.ProviderMoMo,
		notify: &provider.NotifyResult{
			EventID:     "ev-1",
			OrderID:     "order-001",
			ProviderRef: "trans-42",
			Code:        "0",
			Raw:         map[string]any{"resultCode": float64(0)},
			RawBody:     `{"resultCode":0}`,
			Ack:         ack,
			AckContent:  "application/json",
		},
	}
	r := newWebhookRouter(repo, prov)

	w := postWebhook(r, "/webhooks/payments/momo", `{"resultCode":0}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, ack, w.Body.String())
	assert.Equal(t, domain.StatusCompleted, p.Status())
	require.NotNil(t, audited)
	assert.Equal(t, domain.EventWebhook, audited.EventType())
	assert.Equal(t, "ev-1", audited.ProviderEventID())
	repo.AssertExpectations(t)
}

func TestWebhookHandler_Replay(t *testing.T) {
	repo := &mockRepository{}
	p := domain.NewPayment("order-001", uuid.New(), 10000, "VND", domain.ProviderMoMo)
	require.NoError(t, p.MarkAsCompleted("trans-42"))
	repo.On("GetPaymentByOrderID", mock.Anything, "order-001").Return(p, nil).Once()
	repo.On("EventSeen", mock.Anything, domain.ProviderMoMo, "ev-1").Return(true, nil).Once()

	prov := &fakeProvider{
		name: domain.ProviderMoMo,
		notify: &provider.NotifyResult{
			EventID: "ev-1",
			OrderID: "order-001",
			Code:    "0",
			Ack:     `{"resultCode":0}`,
		},
	}
	r := newWebhookRouter(repo, prov)

	w := postWebhook(r, "/webhooks/payments/momo", `{"resultCode":0}`)

	// Redelivery is acknowledged without touching the ledger or the trail.
	assert.Equal(t, http.StatusOK, w.Code)
	repo.AssertNotCalled(t, "UpdatePaymentIf", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "AppendEvent", mock.Anything, mock.Anything)
}

func TestWebhookHandler_ProviderMismatch(t *testing.T) {
	repo := &mockRepository{}
	p := domain.NewPayment("order-001", uuid.New(), 10000, "USD", domain.ProviderStripe)
	repo.On("GetPaymentByOrderID", mock.Anything, "order-001").Return(p, nil).Once()

	prov := &fakeProvider{
		name:   domain.ProviderMoMo,
		notify: &provider.NotifyResult{EventID: "ev-1", OrderID: "order-001", Code: "0"},
	}
	r := newWebhookRouter(repo, prov)

	w := postWebhook(r, "/webhooks/payments/momo", "{}")
	assert.Equal(t, http.StatusNotFound, w.Code)
	repo.AssertNotCalled(t, "UpdatePaymentIf", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_EmptyAck(t *testing.T) {
	repo := &mockRepository{}
	p := domain.NewPayment("order-001", uuid.New(), 10000, "USD", domain.ProviderPayPal)
	repo.On("GetPaymentByOrderID", mock.Anything, "order-001").Return(p, nil).Once()
	repo.On("EventSeen", mock.Anything, domain.ProviderPayPal, "WH-1").Return(false, nil).Once()
	repo.On("GetPayment", mock.Anything, p.ID()).Return(p, nil).Once()
	repo.On("UpdatePaymentIf", mock.Anything, mock.Anything, domain.StatusPending).Return(true, nil).Once()
	repo.On("AppendEvent", mock.Anything, mock.Anything).Return(nil).Once()

	prov := &fakeProvider{
		name: domain.ProviderPayPal,
		notify: &provider.NotifyResult{
			EventID:     "WH-1",
			OrderID:     "order-001",
			ProviderRef: "5O190127TN364715T",
			Code:        "PAYMENT.CAPTURE.COMPLETED",
		},
	}
	r := newWebhookRouter(repo, prov)

	w := postWebhook(r, "/webhooks/payments/paypal", "{}")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWebhookHandler_Challenge(t *testing.T) {
	r := newWebhookRouter(&mockRepository{}, &fakeProvider{name: domain.ProviderStripe})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/payments/stripe?challenge=tok-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok-1", w.Body.String())
}
