package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// CreatePaymentRequest is the payload for opening a payment.
type CreatePaymentRequest struct {
	OrderID     string            `json:"order_id" binding:"required,max=64"`
	Amount      int64             `json:"amount" binding:"required"`
	Currency    string            `json:"currency" binding:"required,min=3,max=3"`
	Provider    string            `json:"provider" binding:"required"`
	Description string            `json:"description" binding:"max=255"`
	ReturnURL   string            `json:"return_url" binding:"omitempty,url"`
	Metadata    map[string]string `json:"metadata"`

	clientIP string
}

// CreatePaymentResponse carries the provider flow artifacts back to the
// caller. Which artifact fields are set depends on the provider.
type CreatePaymentResponse struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	OrderID      string    `json:"order_id"`
	Provider     string    `json:"provider"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	PayURL       string    `json:"pay_url,omitempty"`
	QRCode       string    `json:"qr_code,omitempty"`
	Deeplink     string    `json:"deeplink,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
}

// PaymentResponse is the canonical client view of a payment.
type PaymentResponse struct {
	PaymentID           uuid.UUID  `json:"payment_id"`
	OrderID             string     `json:"order_id"`
	Provider            string     `json:"provider"`
	Status              string     `json:"status"`
	Amount              int64      `json:"amount"`
	Currency            string     `json:"currency"`
	ProviderRef         string     `json:"provider_ref,omitempty"`
	RefundedAmount      int64      `json:"refunded_amount"`
	RemainingRefundable int64      `json:"remaining_refundable"`
	FailureCode         *string    `json:"failure_code,omitempty"`
	FailureMessage      *string    `json:"failure_message,omitempty"`
	PaidAt              *time.Time `json:"paid_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ListPaymentsQuery narrows a payment listing. It binds from query
// parameters on GET and from a JSON body on POST.
type ListPaymentsQuery struct {
	Provider string `form:"provider" json:"provider"`
	Status   string `form:"status" json:"status"`
	OrderID  string `form:"order_id" json:"order_id"`
	Limit    int    `form:"limit,default=20" json:"limit" binding:"omitempty,min=1,max=100"`
	Offset   int    `form:"offset" json:"offset" binding:"omitempty,min=0"`
}

// ListPaymentsResponse is a page of payments.
type ListPaymentsResponse struct {
	Payments []*PaymentResponse `json:"payments"`
	Total    int64              `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

// RefundRequest is the payload for refunding a payment. A zero amount
// refunds the full remaining balance.
type RefundRequest struct {
	Amount int64  `json:"amount" binding:"omitempty,min=0"`
	Reason string `json:"reason" binding:"max=255"`
}

// RefundResponse reports the payment state after a refund.
type RefundResponse struct {
	OrderID             string        `json:"order_id"`
	Status              string        `json:"status"`
	RefundedAmount      int64         `json:"refunded_amount"`
	RemainingRefundable int64         `json:"remaining_refundable"`
	Refund              *RefundDetail `json:"refund"`
}

// RefundDetail describes one refund issued against a payment.
type RefundDetail struct {
	RefundID         string    `json:"refund_id"`
	ProviderRefundID string    `json:"provider_refund_id,omitempty"`
	Amount           int64     `json:"amount"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// EventResponse is one entry of a payment's audit trail.
type EventResponse struct {
	ID        uuid.UUID `json:"id"`
	EventType string    `json:"event_type"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// ListEventsResponse is a payment's full audit trail, oldest first.
type ListEventsResponse struct {
	OrderID string           `json:"order_id"`
	Events  []*EventResponse `json:"events"`
}

func toPaymentResponse(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		PaymentID:           p.ID(),
		OrderID:             p.OrderID(),
		Provider:            string(p.Provider()),
		Status:              string(p.Status()),
		Amount:              p.Amount(),
		Currency:            p.Currency(),
		ProviderRef:         p.ProviderRef(),
		RefundedAmount:      p.RefundedAmount(),
		RemainingRefundable: p.RemainingRefundable(),
		FailureCode:         p.FailureCode(),
		FailureMessage:      p.FailureMessage(),
		PaidAt:              p.PaidAt(),
		CreatedAt:           p.CreatedAt(),
		UpdatedAt:           p.UpdatedAt(),
	}
}

func toEventResponse(e *domain.PaymentEvent) *EventResponse {
	return &EventResponse{
		ID:        e.ID(),
		EventType: string(e.EventType()),
		Status:    string(e.Status()),
		Provider:  string(e.Provider()),
		CreatedAt: e.CreatedAt(),
	}
}
