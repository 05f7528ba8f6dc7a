package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeProvider implements Provider for international card payments via
// Stripe PaymentIntents.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(config *StripeConfig) *StripeProvider {
	stripe.Key = config.APIKey
	return &StripeProvider{
		webhookSecret: config.WebhookSecret,
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() domain.Provider {
	return domain.ProviderStripe
}

// CreateIntent creates a PaymentIntent and returns its client secret for
// client-side confirmation.
func (p *StripeProvider) CreateIntent(ctx context.Context, params *IntentParams) (*IntentResult, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.Amount),
		Currency: stripe.String(params.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	piParams.Context = ctx
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	piParams.Metadata = map[string]string{"order_id": params.OrderID}
	for k, v := range params.Metadata {
		piParams.Metadata[k] = v
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, fmt.Errorf("stripe create intent: %w", classifyStripeErr(err))
	}

	return &IntentResult{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Raw: map[string]any{
			"id":     pi.ID,
			"amount": pi.Amount,
			"status": string(pi.Status),
		},
	}, nil
}

// QueryPayment fetches the PaymentIntent. The intent status string is the
// provider-native code.
func (p *StripeProvider) QueryPayment(ctx context.Context, orderID, providerRef string) (*QueryResult, error) {
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	pi, err := paymentintent.Get(providerRef, getParams)
	if err != nil {
		return nil, fmt.Errorf("stripe query: %w", classifyStripeErr(err))
	}

	return &QueryResult{
		ProviderRef: pi.ID,
		Amount:      pi.Amount,
		Code:        string(pi.Status),
		Message:     string(pi.Status),
		Raw: map[string]any{
			"id":              pi.ID,
			"status":          string(pi.Status),
			"amount":          pi.Amount,
			"amount_received": pi.AmountReceived,
		},
	}, nil
}

// Refund refunds against the PaymentIntent.
func (p *StripeProvider) Refund(ctx context.Context, params *RefundParams) (*RefundResult, error) {
	rParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(params.ProviderRef),
	}
	rParams.Context = ctx
	if params.Amount > 0 && params.Amount < params.TotalAmount {
		rParams.Amount = stripe.Int64(params.Amount)
	}
	rParams.Metadata = map[string]string{"refund_id": params.RefundID}

	r, err := refund.New(rParams)
	if err != nil {
		return nil, fmt.Errorf("stripe refund: %w", classifyStripeErr(err))
	}

	return &RefundResult{
		ProviderRefundID: r.ID,
		Code:             string(r.Status),
		Message:          string(r.Status),
		Raw: map[string]any{
			"id":     r.ID,
			"amount": r.Amount,
			"status": string(r.Status),
		},
	}, nil
}

// ParseNotify verifies the Stripe-Signature header and extracts the
// PaymentIntent carried by the event.
func (p *StripeProvider) ParseNotify(ctx context.Context, body []byte, req *http.Request) (*NotifyResult, error) {
	event, err := webhook.ConstructEvent(body, req.Header.Get("Stripe-Signature"), p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe notify: decode object: %w", err)
	}

	return &NotifyResult{
		EventID:     event.ID,
		OrderID:     pi.Metadata["order_id"],
		ProviderRef: pi.ID,
		Amount:      pi.Amount,
		Code:        string(event.Type),
		Message:     string(pi.Status),
		Raw:         rawMap(event.Data.Raw),
		RawBody:     string(body),
		Ack:         `{"received":true}`,
	}, nil
}

// classifyStripeErr folds transport-level Stripe failures into ErrUnreachable
// so callers treat them like any other unreachable provider.
func classifyStripeErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
