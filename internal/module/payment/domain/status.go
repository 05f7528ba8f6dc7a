package domain

// Status represents the canonical, provider-agnostic status of a payment.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusExpired           Status = "expired"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// IsTerminal returns true if no provider-driven update (webhook or poll) may
// move the payment further. Completed payments only move through refunds.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// IsCompleted returns true if the payment has been captured in full.
func (s Status) IsCompleted() bool {
	return s == StatusCompleted
}

// IsRefundable returns true if a refund can be initiated from this status.
func (s Status) IsRefundable() bool {
	return s == StatusCompleted || s == StatusPartiallyRefunded
}

// CanTransitionTo returns true if the status can transition to the target status.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusCompleted ||
			target == StatusFailed || target == StatusCancelled || target == StatusExpired
	case StatusProcessing:
		return target == StatusCompleted || target == StatusFailed ||
			target == StatusCancelled || target == StatusExpired
	case StatusCompleted, StatusPartiallyRefunded:
		return target == StatusPartiallyRefunded || target == StatusRefunded
	case StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return false // Terminal states
	default:
		return false
	}
}

// Provider identifies a payment provider.
type Provider string

const (
	ProviderMoMo    Provider = "momo"
	ProviderZaloPay Provider = "zalopay"
	ProviderVNPay   Provider = "vnpay"
	ProviderStripe  Provider = "stripe"
	ProviderPayPal  Provider = "paypal"
)

// IsDomestic returns true for domestic gateways that settle in VND and
// authenticate callbacks with shared-secret HMAC signatures.
func (p Provider) IsDomestic() bool {
	return p == ProviderMoMo || p == ProviderZaloPay || p == ProviderVNPay
}

// EventType classifies entries in the append-only payment event log.
type EventType string

const (
	EventCreated         EventType = "CREATED"
	EventWebhook         EventType = "WEBHOOK"
	EventStatusQuery     EventType = "STATUS_QUERY"
	EventRefundInitiated EventType = "REFUND_INITIATED"
	EventRefunded        EventType = "REFUNDED"
)
