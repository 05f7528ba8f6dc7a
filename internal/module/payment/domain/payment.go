package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Payment errors.
var (
	ErrPaymentNotRefundable    = errors.New("payment is not in a refundable state")
	ErrInvalidRefundAmount     = errors.New("invalid refund amount")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// RefundRecord captures one refund issued against a payment. Records are
// append-only; completed refunds are never rewritten.
type RefundRecord struct {
	ID               string    `json:"id"`
	ProviderRefundID string    `json:"provider_refund_id,omitempty"`
	Amount           int64     `json:"amount"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ProviderData holds the raw provider payloads observed over the payment's
// lifetime, keyed by phase. It is persisted as an opaque document so that
// provider-specific fields never leak into relational columns.
type ProviderData struct {
	Intent  map[string]any `json:"intent,omitempty"`
	Notify  map[string]any `json:"notify,omitempty"`
	Query   map[string]any `json:"query,omitempty"`
	Refunds []RefundRecord `json:"refunds,omitempty"`
}

// Payment represents a payment intent aggregate root. The order ID is the
// client-supplied business key and is unique across all payments.
type Payment struct {
	id             uuid.UUID
	orderID        string
	userID         uuid.UUID
	amount         int64
	currency       string
	provider       Provider
	status         Status
	providerRef    string
	payURL         string
	failureCode    *string
	failureMessage *string
	refundedAmount int64
	providerData   ProviderData
	paidAt         *time.Time
	createdAt      time.Time
	updatedAt      time.Time
}

// NewPayment creates a new pending Payment.
func NewPayment(orderID string, userID uuid.UUID, amount int64, currency string, provider Provider) *Payment {
	now := time.Now()
	return &Payment{
		id:        uuid.New(),
		orderID:   orderID,
		userID:    userID,
		amount:    amount,
		currency:  currency,
		provider:  provider,
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
	}
}

// RestorePayment recreates a Payment from persisted data.
func RestorePayment(
	id uuid.UUID,
	orderID string,
	userID uuid.UUID,
	amount int64,
	currency string,
	provider Provider,
	status Status,
	providerRef, payURL string,
	failureCode, failureMessage *string,
	refundedAmount int64,
	providerData ProviderData,
	paidAt *time.Time,
	createdAt, updatedAt time.Time,
) *Payment {
	return &Payment{
		id:             id,
		orderID:        orderID,
		userID:         userID,
		amount:         amount,
		currency:       currency,
		provider:       provider,
		status:         status,
		providerRef:    providerRef,
		payURL:         payURL,
		failureCode:    failureCode,
		failureMessage: failureMessage,
		refundedAmount: refundedAmount,
		providerData:   providerData,
		paidAt:         paidAt,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

// --- Getters ---

func (p *Payment) ID() uuid.UUID             { return p.id }
func (p *Payment) OrderID() string           { return p.orderID }
func (p *Payment) UserID() uuid.UUID         { return p.userID }
func (p *Payment) Amount() int64             { return p.amount }
func (p *Payment) Currency() string          { return p.currency }
func (p *Payment) Provider() Provider        { return p.provider }
func (p *Payment) Status() Status            { return p.status }
func (p *Payment) ProviderRef() string       { return p.providerRef }
func (p *Payment) PayURL() string            { return p.payURL }
func (p *Payment) FailureCode() *string      { return p.failureCode }
func (p *Payment) FailureMessage() *string   { return p.failureMessage }
func (p *Payment) RefundedAmount() int64     { return p.refundedAmount }
func (p *Payment) ProviderData() ProviderData { return p.providerData }
func (p *Payment) PaidAt() *time.Time        { return p.paidAt }
func (p *Payment) CreatedAt() time.Time      { return p.createdAt }
func (p *Payment) UpdatedAt() time.Time      { return p.updatedAt }

// RemainingRefundable returns the amount that can still be refunded.
func (p *Payment) RemainingRefundable() int64 {
	return p.amount - p.refundedAmount
}

// --- Setters for non-critical fields ---

func (p *Payment) SetProviderRef(ref string) {
	p.providerRef = ref
	p.updatedAt = time.Now()
}

func (p *Payment) SetPayURL(url string) {
	p.payURL = url
	p.updatedAt = time.Now()
}

func (p *Payment) SetIntentData(data map[string]any) {
	p.providerData.Intent = data
	p.updatedAt = time.Now()
}

func (p *Payment) SetNotifyData(data map[string]any) {
	p.providerData.Notify = data
	p.updatedAt = time.Now()
}

func (p *Payment) SetQueryData(data map[string]any) {
	p.providerData.Query = data
	p.updatedAt = time.Now()
}

// --- Domain Methods ---

// MarkAsProcessing records that the payer has engaged the provider flow.
func (p *Payment) MarkAsProcessing() error {
	if !p.status.CanTransitionTo(StatusProcessing) {
		return ErrInvalidStatusTransition
	}
	p.status = StatusProcessing
	p.updatedAt = time.Now()
	return nil
}

// MarkAsCompleted marks the payment as captured in full. PaidAt is set once
// and never overwritten by later replays.
func (p *Payment) MarkAsCompleted(providerRef string) error {
	if !p.status.CanTransitionTo(StatusCompleted) {
		return ErrInvalidStatusTransition
	}

	now := time.Now()
	p.status = StatusCompleted
	if providerRef != "" {
		p.providerRef = providerRef
	}
	if p.paidAt == nil {
		p.paidAt = &now
	}
	p.updatedAt = now
	return nil
}

// MarkAsFailed marks the payment as failed with the provider's reason.
func (p *Payment) MarkAsFailed(failureCode, failureMessage string) error {
	if !p.status.CanTransitionTo(StatusFailed) {
		return ErrInvalidStatusTransition
	}

	p.status = StatusFailed
	p.failureCode = &failureCode
	p.failureMessage = &failureMessage
	p.updatedAt = time.Now()
	return nil
}

// MarkAsCancelled marks the payment as cancelled by the payer.
func (p *Payment) MarkAsCancelled() error {
	if !p.status.CanTransitionTo(StatusCancelled) {
		return ErrInvalidStatusTransition
	}
	p.status = StatusCancelled
	p.updatedAt = time.Now()
	return nil
}

// MarkAsExpired marks the payment as expired at the provider.
func (p *Payment) MarkAsExpired() error {
	if !p.status.CanTransitionTo(StatusExpired) {
		return ErrInvalidStatusTransition
	}
	p.status = StatusExpired
	p.updatedAt = time.Now()
	return nil
}

// Refund validates and applies a refund against the payment.
// If amount is 0, the full remaining balance is refunded. The returned value
// is the amount actually refunded.
func (p *Payment) Refund(amount int64) (int64, error) {
	if !p.status.IsRefundable() {
		return 0, ErrPaymentNotRefundable
	}

	refundAmount := amount
	if refundAmount == 0 {
		refundAmount = p.RemainingRefundable()
	}

	if refundAmount <= 0 || refundAmount > p.RemainingRefundable() {
		return 0, ErrInvalidRefundAmount
	}

	p.refundedAmount += refundAmount
	if p.refundedAmount >= p.amount {
		p.status = StatusRefunded
	} else {
		p.status = StatusPartiallyRefunded
	}
	p.updatedAt = time.Now()

	return refundAmount, nil
}

// RecordRefund appends a refund record to the provider data document.
func (p *Payment) RecordRefund(rec RefundRecord) {
	p.providerData.Refunds = append(p.providerData.Refunds, rec)
	p.updatedAt = time.Now()
}
