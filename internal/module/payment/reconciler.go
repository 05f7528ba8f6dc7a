package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// maxApplyAttempts bounds the reread-and-retry loop when a concurrent
// writer wins the conditional update.
const maxApplyAttempts = 3

// statusMapping maps one provider-native code to a canonical status.
type statusMapping struct {
	Status  domain.Status
	Message string
}

// reconcileTable translates provider-native status codes into the canonical
// lifecycle. Webhook codes and query codes share a table per provider; the
// code families do not collide. Codes absent from the table are ignored
// with a warning rather than guessed at.
var reconcileTable = map[domain.Provider]map[string]statusMapping{
	domain.ProviderMoMo: {
		"0":    {domain.StatusCompleted, "captured"},
		"9000": {domain.StatusProcessing, "authorized, awaiting capture"},
		"1000": {domain.StatusProcessing, "payer engaged"},
		"7002": {domain.StatusProcessing, "processing at issuer"},
		"1003": {domain.StatusCancelled, "cancelled by merchant or payer"},
		"1006": {domain.StatusCancelled, "payer declined confirmation"},
		"1005": {domain.StatusExpired, "pay URL expired"},
		"1001": {domain.StatusFailed, "insufficient funds"},
		"1002": {domain.StatusFailed, "rejected by issuer"},
		"1004": {domain.StatusFailed, "amount exceeds limit"},
		"1007": {domain.StatusFailed, "inactive account"},
		"4100": {domain.StatusFailed, "login failed"},
		"99":   {domain.StatusFailed, "unknown gateway error"},
	},
	domain.ProviderZaloPay: {
		"1": {domain.StatusCompleted, "captured"},
		"2": {domain.StatusFailed, "payment failed"},
		"3": {domain.StatusProcessing, "processing"},
	},
	domain.ProviderVNPay: {
		"00": {domain.StatusCompleted, "captured"},
		"01": {domain.StatusProcessing, "transaction incomplete"},
		"02": {domain.StatusFailed, "transaction error"},
		"04": {domain.StatusFailed, "reversed"},
		"05": {domain.StatusProcessing, "processing at bank"},
		"06": {domain.StatusProcessing, "refund requested at bank"},
		"07": {domain.StatusFailed, "suspected fraud"},
		"09": {domain.StatusFailed, "card not registered for online banking"},
		"10": {domain.StatusFailed, "authentication failed"},
		"11": {domain.StatusExpired, "payment window expired"},
		"12": {domain.StatusFailed, "card or account locked"},
		"13": {domain.StatusFailed, "wrong OTP"},
		"24": {domain.StatusCancelled, "cancelled by payer"},
		"51": {domain.StatusFailed, "insufficient funds"},
		"65": {domain.StatusFailed, "daily limit exceeded"},
		"75": {domain.StatusFailed, "bank under maintenance"},
		"79": {domain.StatusFailed, "wrong payment password"},
		"99": {domain.StatusFailed, "unknown gateway error"},
	},
	domain.ProviderStripe: {
		// Webhook event types.
		"payment_intent.succeeded":      {domain.StatusCompleted, "captured"},
		"payment_intent.processing":     {domain.StatusProcessing, "processing"},
		"payment_intent.payment_failed": {domain.StatusFailed, "payment failed"},
		"payment_intent.canceled":       {domain.StatusCancelled, "cancelled"},
		"payment_intent.created":        {domain.StatusPending, "created"},
		// PaymentIntent statuses observed through queries.
		"succeeded":               {domain.StatusCompleted, "captured"},
		"processing":              {domain.StatusProcessing, "processing"},
		"requires_payment_method": {domain.StatusPending, "awaiting payment method"},
		"requires_confirmation":   {domain.StatusProcessing, "awaiting confirmation"},
		"requires_action":         {domain.StatusProcessing, "awaiting payer action"},
		"requires_capture":        {domain.StatusProcessing, "authorized, awaiting capture"},
		"canceled":                {domain.StatusCancelled, "cancelled"},
	},
	domain.ProviderPayPal: {
		// Webhook event types.
		"PAYMENT.CAPTURE.COMPLETED": {domain.StatusCompleted, "captured"},
		"PAYMENT.CAPTURE.DENIED":    {domain.StatusFailed, "capture denied"},
		"PAYMENT.CAPTURE.PENDING":   {domain.StatusProcessing, "capture pending"},
		"CHECKOUT.ORDER.APPROVED":   {domain.StatusProcessing, "approved by payer"},
		// Order statuses observed through queries.
		"CREATED":   {domain.StatusPending, "created"},
		"SAVED":     {domain.StatusPending, "saved"},
		"APPROVED":  {domain.StatusProcessing, "approved by payer"},
		"COMPLETED": {domain.StatusCompleted, "captured"},
		"VOIDED":    {domain.StatusCancelled, "voided"},
	},
}

// Observation is one provider report about a payment, from a webhook or a
// status query, expressed in the provider's own code vocabulary.
type Observation struct {
	Provider    domain.Provider
	Code        string
	Message     string
	ProviderRef string
	EventType   domain.EventType
	Raw         map[string]any
}

// Reconciler folds provider observations into canonical payment state. All
// writes go through an optimistic conditional update keyed on the status
// the decision was made against.
type Reconciler struct {
	repo   Repository
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(repo Repository, logger *zap.Logger) *Reconciler {
	return &Reconciler{repo: repo, logger: logger}
}

// Resolve maps a provider-native code to its canonical status.
func (r *Reconciler) Resolve(provider domain.Provider, code string) (statusMapping, bool) {
	table, ok := reconcileTable[provider]
	if !ok {
		return statusMapping{}, false
	}
	m, ok := table[code]
	return m, ok
}

// Apply folds one observation into the payment. It returns the payment as
// last read and whether the canonical status changed. Terminal payments,
// same-status replays, out-of-order reports and unmapped codes are all
// no-ops; losing the conditional update triggers a reread and retry.
func (r *Reconciler) Apply(ctx context.Context, paymentID uuid.UUID, obs *Observation) (*domain.Payment, bool, error) {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		p, err := r.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, false, err
		}
		loaded := p.Status()

		mapping, ok := r.Resolve(obs.Provider, obs.Code)
		if !ok {
			r.logger.Warn("unmapped provider status code, ignoring",
				zap.String("provider", string(obs.Provider)),
				zap.String("code", obs.Code),
				zap.String("order_id", p.OrderID()))
			return p, false, nil
		}

		if loaded.IsTerminal() || mapping.Status == loaded {
			r.logger.Debug("observation is a no-op",
				zap.String("order_id", p.OrderID()),
				zap.String("status", string(loaded)),
				zap.String("code", obs.Code))
			return p, false, nil
		}

		if !loaded.CanTransitionTo(mapping.Status) {
			// Late or out-of-order report, e.g. a processing webhook
			// delivered after capture. The current state wins.
			r.logger.Debug("ignoring out-of-order observation",
				zap.String("order_id", p.OrderID()),
				zap.String("from", string(loaded)),
				zap.String("to", string(mapping.Status)))
			return p, false, nil
		}

		if err := r.mutate(p, mapping, obs); err != nil {
			return nil, false, err
		}

		ok, err = r.repo.UpdatePaymentIf(ctx, p, loaded)
		if err != nil {
			return nil, false, err
		}
		if ok {
			r.logger.Info("payment status reconciled",
				zap.String("order_id", p.OrderID()),
				zap.String("provider", string(obs.Provider)),
				zap.String("from", string(loaded)),
				zap.String("to", string(p.Status())),
				zap.String("code", obs.Code))
			return p, true, nil
		}

		r.logger.Debug("lost conditional update, rereading",
			zap.String("order_id", p.OrderID()),
			zap.Int("attempt", attempt+1))
	}

	return nil, false, fmt.Errorf("apply observation: contention on payment %s exceeded %d attempts", paymentID, maxApplyAttempts)
}

func (r *Reconciler) mutate(p *domain.Payment, mapping statusMapping, obs *Observation) error {
	switch obs.EventType {
	case domain.EventWebhook:
		p.SetNotifyData(obs.Raw)
	case domain.EventStatusQuery:
		p.SetQueryData(obs.Raw)
	}

	message := obs.Message
	if message == "" {
		message = mapping.Message
	}

	switch mapping.Status {
	case domain.StatusProcessing:
		return p.MarkAsProcessing()
	case domain.StatusCompleted:
		return p.MarkAsCompleted(obs.ProviderRef)
	case domain.StatusFailed:
		return p.MarkAsFailed(obs.Code, message)
	case domain.StatusCancelled:
		return p.MarkAsCancelled()
	case domain.StatusExpired:
		return p.MarkAsExpired()
	default:
		return fmt.Errorf("mutate: unexpected target status %s", mapping.Status)
	}
}
