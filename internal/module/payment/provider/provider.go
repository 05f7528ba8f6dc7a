package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// Provider errors. Adapters wrap these so callers can classify failures
// without knowing provider specifics.
var (
	// ErrInvalidSignature means a callback failed authentication. The
	// payload must be discarded without touching any payment.
	ErrInvalidSignature = errors.New("invalid callback signature")

	// ErrUnreachable means the provider could not be reached or answered
	// with a server error. The local payment state is unchanged.
	ErrUnreachable = errors.New("provider unreachable")

	// ErrUnsupported means the provider does not implement the operation.
	ErrUnsupported = errors.New("operation not supported by provider")
)

// IntentParams carries everything needed to open a payment at a provider.
type IntentParams struct {
	OrderID     string // Our business key, unique per payment
	Amount      int64  // Minor units of Currency
	Currency    string
	Description string
	ReturnURL   string // Where the payer lands after the hosted flow
	ClientIP    string
	Metadata    map[string]string
}

// IntentResult is the provider's answer to opening a payment. Which
// artifact fields are set depends on the provider's flow.
type IntentResult struct {
	ProviderRef  string         // Provider's transaction ID, if assigned at create
	PayURL       string         // Hosted checkout / redirect URL
	QRCode       string         // QR content for scan-to-pay flows
	Deeplink     string         // Wallet app deeplink
	ClientSecret string         // Client-side confirmation secret
	Raw          map[string]any // Raw provider response for the audit trail
}

// QueryResult is the provider's answer to a status query. Code is the
// provider-native status code; the reconciler maps it to a canonical status.
type QueryResult struct {
	ProviderRef string
	Amount      int64
	Code        string
	Message     string
	Raw         map[string]any
}

// NotifyResult is a parsed and authenticated webhook notification.
type NotifyResult struct {
	EventID     string // Provider's event/notification ID, for dedupe
	OrderID     string // Our business key recovered from the payload
	ProviderRef string
	Amount      int64
	Code        string // Provider-native status code
	Message     string
	Raw         map[string]any
	RawBody     string
	Ack         string // Body the provider expects back on acceptance
	AckContent  string // Content type of Ack; empty means application/json
}

// RefundParams carries a refund instruction against a captured payment.
type RefundParams struct {
	OrderID     string
	ProviderRef string
	RefundID    string // Our refund ID, unique per attempt
	Amount      int64
	TotalAmount int64
	Reason      string
}

// RefundResult is the provider's answer to a refund instruction.
type RefundResult struct {
	ProviderRefundID string
	Code             string
	Message          string
	Raw              map[string]any
}

// Provider is the uniform adapter boundary over heterogeneous payment
// providers. Adapters translate between provider wire formats and these
// types; they never decide canonical status.
type Provider interface {
	// Name returns the provider identifier.
	Name() domain.Provider

	// CreateIntent opens a payment at the provider and returns the
	// client-facing flow artifacts.
	CreateIntent(ctx context.Context, p *IntentParams) (*IntentResult, error)

	// QueryPayment fetches the provider's current view of a payment.
	QueryPayment(ctx context.Context, orderID, providerRef string) (*QueryResult, error)

	// Refund instructs the provider to return funds to the payer.
	Refund(ctx context.Context, p *RefundParams) (*RefundResult, error)

	// ParseNotify authenticates and parses an incoming webhook request.
	// It returns ErrInvalidSignature when authentication fails.
	ParseNotify(ctx context.Context, body []byte, req *http.Request) (*NotifyResult, error)
}
