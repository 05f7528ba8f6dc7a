package payment

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/flowpay/server/internal/module/payment/domain"
	"github.com/flowpay/server/internal/module/payment/provider"
	"github.com/flowpay/server/internal/shared/metrics"
)

// testMetrics is shared across the package; prometheus collectors may only
// be registered once per process.
var testMetrics = metrics.New("flowpay_test")

// mockRepository is a testify mock of Repository.
type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockRepository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*domain.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	args := m.Called(ctx, orderID)
	if p := args.Get(0); p != nil {
		return p.(*domain.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) GetPaymentByProviderRef(ctx context.Context, prov domain.Provider, ref string) (*domain.Payment, error) {
	args := m.Called(ctx, prov, ref)
	if p := args.Get(0); p != nil {
		return p.(*domain.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockRepository) UpdatePaymentIf(ctx context.Context, p *domain.Payment, expected domain.Status) (bool, error) {
	args := m.Called(ctx, p, expected)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) ListPayments(ctx context.Context, filter ListFilter) ([]*domain.Payment, int64, error) {
	args := m.Called(ctx, filter)
	var payments []*domain.Payment
	if p := args.Get(0); p != nil {
		payments = p.([]*domain.Payment)
	}
	return payments, args.Get(1).(int64), args.Error(2)
}

func (m *mockRepository) AppendEvent(ctx context.Context, event *domain.PaymentEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockRepository) ListEvents(ctx context.Context, paymentID uuid.UUID) ([]*domain.PaymentEvent, error) {
	args := m.Called(ctx, paymentID)
	var events []*domain.PaymentEvent
	if e := args.Get(0); e != nil {
		events = e.([]*domain.PaymentEvent)
	}
	return events, args.Error(1)
}

func (m *mockRepository) EventSeen(ctx context.Context, prov domain.Provider, providerEventID string) (bool, error) {
	args := m.Called(ctx, prov, providerEventID)
	return args.Bool(0), args.Error(1)
}

// fakeProvider is a hand-rolled provider stub with injectable behavior.
type fakeProvider struct {
	name       domain.Provider
	intent     *provider.IntentResult
	intentErr  error
	query      *provider.QueryResult
	queryErr   error
	refund     *provider.RefundResult
	refundErr  error
	notify     *provider.NotifyResult
	notifyErr  error
	refundCalls int
}

func (f *fakeProvider) Name() domain.Provider { return f.name }

func (f *fakeProvider) CreateIntent(ctx context.Context, params *provider.IntentParams) (*provider.IntentResult, error) {
	return f.intent, f.intentErr
}

func (f *fakeProvider) QueryPayment(ctx context.Context, orderID, providerRef string) (*provider.QueryResult, error) {
	return f.query, f.queryErr
}

func (f *fakeProvider) Refund(ctx context.Context, params *provider.RefundParams) (*provider.RefundResult, error) {
	f.refundCalls++
	return f.refund, f.refundErr
}

func (f *fakeProvider) ParseNotify(ctx context.Context, body []byte, req *http.Request) (*provider.NotifyResult, error) {
	return f.notify, f.notifyErr
}
