package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowpay/server/internal/module/payment/domain"
	"github.com/flowpay/server/internal/module/payment/provider"
	apperrors "github.com/flowpay/server/internal/shared/errors"
	"github.com/flowpay/server/internal/shared/metrics"
)

// Service implements payment orchestration: creating intents, serving
// status with poll-driven reconciliation, and dispatching refunds.
type Service struct {
	repo       Repository
	registry   *ProviderRegistry
	reconciler *Reconciler
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewService creates a new payment service.
func NewService(
	repo Repository,
	registry *ProviderRegistry,
	reconciler *Reconciler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:       repo,
		registry:   registry,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
	}
}

// CreatePayment opens a payment: the ledger row is written first so the
// order key is claimed atomically, then the provider is asked for flow
// artifacts.
func (s *Service) CreatePayment(ctx context.Context, userID uuid.UUID, req *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}

	prov, err := s.registry.Get(domain.Provider(req.Provider))
	if err != nil {
		return nil, err
	}

	p := domain.NewPayment(req.OrderID, userID, req.Amount, req.Currency, prov.Name())
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	start := time.Now()
	intent, err := prov.CreateIntent(ctx, &provider.IntentParams{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		ClientIP:    req.clientIP,
		Metadata:    req.Metadata,
	})
	s.metrics.ProviderCallDuration.WithLabelValues(req.Provider, "create").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("provider rejected payment creation",
			zap.String("order_id", req.OrderID),
			zap.String("provider", req.Provider),
			zap.Error(err))

		// The ledger row stays behind as failed so the attempt is on
		// record; the order key is burned either way.
		if markErr := p.MarkAsFailed("provider_error", err.Error()); markErr == nil {
			if updErr := s.repo.UpdatePayment(ctx, p); updErr != nil {
				s.logger.Error("failed to persist failed payment", zap.Error(updErr))
			}
		}
		s.appendEvent(ctx, p, domain.EventCreated, "", err.Error())
		s.metrics.PaymentsCreatedTotal.WithLabelValues(req.Provider, string(p.Status())).Inc()

		if errors.Is(err, provider.ErrUnreachable) {
			return nil, apperrors.ErrProviderUnreachable.WithErr(err)
		}
		return nil, apperrors.Internal("payment creation failed at provider", err)
	}

	p.SetProviderRef(intent.ProviderRef)
	p.SetPayURL(intent.PayURL)
	p.SetIntentData(intent.Raw)
	if err := s.repo.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, p, domain.EventCreated, "", marshalRaw(intent.Raw))
	s.metrics.PaymentsCreatedTotal.WithLabelValues(req.Provider, string(p.Status())).Inc()

	s.logger.Info("payment created",
		zap.String("order_id", p.OrderID()),
		zap.String("provider", req.Provider),
		zap.Int64("amount", p.Amount()),
		zap.String("currency", p.Currency()))

	return &CreatePaymentResponse{
		PaymentID:    p.ID(),
		OrderID:      p.OrderID(),
		Provider:     string(p.Provider()),
		Status:       string(p.Status()),
		Amount:       p.Amount(),
		Currency:     p.Currency(),
		PayURL:       intent.PayURL,
		QRCode:       intent.QRCode,
		Deeplink:     intent.Deeplink,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// GetStatus returns the payment's canonical status. Non-terminal payments
// are reconciled against the provider first; a failed provider query
// degrades to the last known ledger state.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID, orderID string) (*PaymentResponse, error) {
	p, err := s.getOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if p.Status().IsTerminal() || p.Status() == domain.StatusPartiallyRefunded {
		return toPaymentResponse(p), nil
	}

	prov, err := s.registry.Get(p.Provider())
	if err != nil {
		return toPaymentResponse(p), nil
	}

	start := time.Now()
	qr, err := prov.QueryPayment(ctx, p.OrderID(), p.ProviderRef())
	s.metrics.ProviderCallDuration.WithLabelValues(string(p.Provider()), "query").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("provider status query failed, serving ledger state",
			zap.String("order_id", orderID),
			zap.String("provider", string(p.Provider())),
			zap.Error(err))
		return toPaymentResponse(p), nil
	}

	applied, changed, err := s.reconciler.Apply(ctx, p.ID(), &Observation{
		Provider:    p.Provider(),
		Code:        qr.Code,
		Message:     qr.Message,
		ProviderRef: qr.ProviderRef,
		EventType:   domain.EventStatusQuery,
		Raw:         qr.Raw,
	})
	if err != nil {
		s.logger.Warn("reconciliation from poll failed, serving ledger state",
			zap.String("order_id", orderID), zap.Error(err))
		return toPaymentResponse(p), nil
	}
	if changed {
		s.metrics.ReconciliationsTotal.WithLabelValues(string(p.Provider()), string(applied.Status())).Inc()
	}

	// A poll leaves an audit entry even when nothing changed; the query
	// itself is the fact worth recording.
	s.appendEvent(ctx, applied, domain.EventStatusQuery, "", marshalRaw(qr.Raw))

	return toPaymentResponse(applied), nil
}

// ListPayments returns the caller's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, userID uuid.UUID, q *ListPaymentsQuery) (*ListPaymentsResponse, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	payments, total, err := s.repo.ListPayments(ctx, ListFilter{
		UserID:          userID,
		Provider:        domain.Provider(q.Provider),
		Status:          domain.Status(q.Status),
		OrderIDContains: q.OrderID,
		Limit:           limit,
		Offset:          q.Offset,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*PaymentResponse, len(payments))
	for i, p := range payments {
		out[i] = toPaymentResponse(p)
	}
	return &ListPaymentsResponse{
		Payments: out,
		Total:    total,
		Limit:    limit,
		Offset:   q.Offset,
	}, nil
}

// ListEvents returns a payment's append-only audit trail.
func (s *Service) ListEvents(ctx context.Context, userID uuid.UUID, orderID string) (*ListEventsResponse, error) {
	p, err := s.getOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	events, err := s.repo.ListEvents(ctx, p.ID())
	if err != nil {
		return nil, err
	}

	out := make([]*EventResponse, len(events))
	for i, e := range events {
		out[i] = toEventResponse(e)
	}
	return &ListEventsResponse{OrderID: orderID, Events: out}, nil
}

// Refund validates and dispatches a refund. The provider is called exactly
// once; only the ledger write is retried if a concurrent writer interferes.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, orderID string, req *RefundRequest) (*RefundResponse, error) {
	p, err := s.getOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if !p.Status().IsRefundable() {
		return nil, apperrors.ErrInvalidState.WithMessage(
			fmt.Sprintf("cannot refund a payment in status %s", p.Status()))
	}

	amount := req.Amount
	if amount == 0 {
		amount = p.RemainingRefundable()
	}
	if amount <= 0 || amount > p.RemainingRefundable() {
		return nil, apperrors.ErrInvalidAmount.WithMessage(
			fmt.Sprintf("refund amount %d exceeds remaining balance %d", amount, p.RemainingRefundable()))
	}

	prov, err := s.registry.Get(p.Provider())
	if err != nil {
		return nil, err
	}

	refundID := uuid.NewString()
	s.appendEvent(ctx, p, domain.EventRefundInitiated, refundID,
		fmt.Sprintf(`{"refund_id":%q,"amount":%d,"reason":%q}`, refundID, amount, req.Reason))

	start := time.Now()
	res, err := prov.Refund(ctx, &provider.RefundParams{
		OrderID:     p.OrderID(),
		ProviderRef: p.ProviderRef(),
		RefundID:    refundID,
		Amount:      amount,
		TotalAmount: p.Amount(),
		Reason:      req.Reason,
	})
	s.metrics.ProviderCallDuration.WithLabelValues(string(p.Provider()), "refund").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.RefundsTotal.WithLabelValues(string(p.Provider()), "error").Inc()
		s.logger.Error("provider refund failed",
			zap.String("order_id", orderID),
			zap.String("refund_id", refundID),
			zap.Error(err))
		if errors.Is(err, provider.ErrUnreachable) {
			return nil, apperrors.ErrProviderUnreachable.WithErr(err)
		}
		if errors.Is(err, provider.ErrUnsupported) {
			return nil, apperrors.ErrUnsupportedProvider.WithErr(err)
		}
		return nil, apperrors.Internal("refund failed at provider", err)
	}

	rec := domain.RefundRecord{
		ID:               refundID,
		ProviderRefundID: res.ProviderRefundID,
		Amount:           amount,
		Reason:           req.Reason,
		CreatedAt:        time.Now(),
	}

	applied, err := s.persistRefund(ctx, p, amount, rec)
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, applied, domain.EventRefunded, refundID, marshalRaw(res.Raw))
	s.metrics.RefundsTotal.WithLabelValues(string(applied.Provider()), "ok").Inc()

	s.logger.Info("refund applied",
		zap.String("order_id", orderID),
		zap.String("refund_id", refundID),
		zap.Int64("amount", amount),
		zap.String("status", string(applied.Status())))

	return &RefundResponse{
		OrderID:             applied.OrderID(),
		Status:              string(applied.Status()),
		RefundedAmount:      applied.RefundedAmount(),
		RemainingRefundable: applied.RemainingRefundable(),
		Refund: &RefundDetail{
			RefundID:         rec.ID,
			ProviderRefundID: rec.ProviderRefundID,
			Amount:           rec.Amount,
			Reason:           rec.Reason,
			CreatedAt:        rec.CreatedAt,
		},
	}, nil
}

// persistRefund folds an already-executed provider refund into the ledger.
// The conditional update may lose to a concurrent webhook touching the same
// row; the refund math is then reapplied on a fresh read. The provider call
// is never repeated.
func (s *Service) persistRefund(ctx context.Context, p *domain.Payment, amount int64, rec domain.RefundRecord) (*domain.Payment, error) {
	loaded := p.Status()
	if _, err := p.Refund(amount); err != nil {
		return nil, refundDomainErr(err)
	}
	p.RecordRefund(rec)

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		ok, err := s.repo.UpdatePaymentIf(ctx, p, loaded)
		if err != nil {
			return nil, err
		}
		if ok {
			return p, nil
		}

		fresh, err := s.repo.GetPayment(ctx, p.ID())
		if err != nil {
			return nil, err
		}
		loaded = fresh.Status()
		if _, err := fresh.Refund(amount); err != nil {
			// The provider accepted the refund but a concurrent writer
			// consumed the balance. Surface loudly; this needs a human.
			s.logger.Error("refund executed at provider but ledger rejects it",
				zap.String("order_id", p.OrderID()),
				zap.String("refund_id", rec.ID),
				zap.Error(err))
			return nil, refundDomainErr(err)
		}
		fresh.RecordRefund(rec)
		p = fresh
	}

	return nil, apperrors.Internal("could not persist refund after repeated contention", nil)
}

func (s *Service) getOwned(ctx context.Context, userID uuid.UUID, orderID string) (*domain.Payment, error) {
	p, err := s.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, apperrors.NotFound("payment")
		}
		return nil, err
	}
	if p.UserID() != userID {
		return nil, apperrors.Forbidden("")
	}
	return p, nil
}

// appendEvent writes an audit entry with the payment's current status as
// the snapshot. Audit failures are logged, never surfaced.
func (s *Service) appendEvent(ctx context.Context, p *domain.Payment, eventType domain.EventType, providerEventID, data string) {
	ev := domain.NewPaymentEvent(p.ID(), eventType, p.Status(), p.Provider(), providerEventID, data)
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		s.logger.Error("failed to append payment event",
			zap.String("order_id", p.OrderID()),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func refundDomainErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrPaymentNotRefundable):
		return apperrors.ErrInvalidState.WithErr(err)
	case errors.Is(err, domain.ErrInvalidRefundAmount):
		return apperrors.ErrInvalidAmount.WithMessage("refund amount exceeds remaining balance")
	default:
		return err
	}
}

func marshalRaw(raw map[string]any) string {
	if raw == nil {
		return ""
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}
