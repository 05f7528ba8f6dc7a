package provider

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/paypal"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// PayPalConfig holds PayPal configuration. WebhookCert is the PEM-encoded
// PayPal certificate used to verify webhook transmission signatures.
type PayPalConfig struct {
	ClientID    string
	Secret      string
	IsProd      bool
	WebhookID   string
	WebhookCert string
	ReturnURL   string
	CancelURL   string
}

// PayPalProvider implements Provider for international wallet payments via
// PayPal checkout orders.
type PayPalProvider struct {
	client *paypal.Client
	config *PayPalConfig
}

// NewPayPalProvider creates a new PayPal provider.
func NewPayPalProvider(config *PayPalConfig) (*PayPalProvider, error) {
	client, err := paypal.NewClient(config.ClientID, config.Secret, config.IsProd)
	if err != nil {
		return nil, fmt.Errorf("create paypal client: %w", err)
	}
	return &PayPalProvider{
		client: client,
		config: config,
	}, nil
}

// Name returns the provider name.
func (p *PayPalProvider) Name() domain.Provider {
	return domain.ProviderPayPal
}

// CreateIntent creates a CAPTURE checkout order and returns the approval
// URL the payer is redirected to.
func (p *PayPalProvider) CreateIntent(ctx context.Context, params *IntentParams) (*IntentResult, error) {
	returnURL := params.ReturnURL
	if returnURL == "" {
		returnURL = p.config.ReturnURL
	}

	bm := make(gopay.BodyMap)
	bm.Set("intent", "CAPTURE")
	bm.Set("purchase_units", []map[string]any{{
		"reference_id": params.OrderID,
		"custom_id":    params.OrderID,
		"description":  params.Description,
		"amount": map[string]string{
			"currency_code": strings.ToUpper(params.Currency),
			"value":         minorToMajor(params.Amount),
		},
	}})
	bm.SetBodyMap("application_context", func(b gopay.BodyMap) {
		b.Set("return_url", returnURL)
		b.Set("cancel_url", p.config.CancelURL)
	})

	rsp, err := p.client.CreateOrder(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("paypal create order: %w: %v", ErrUnreachable, err)
	}
	if rsp.Code != paypal.Success {
		return nil, fmt.Errorf("paypal create order rejected: %s", rsp.Error)
	}

	var approveURL string
	for _, link := range rsp.Response.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
		}
	}

	return &IntentResult{
		ProviderRef: rsp.Response.Id,
		PayURL:      approveURL,
		Raw: map[string]any{
			"id":     rsp.Response.Id,
			"status": rsp.Response.Status,
		},
	}, nil
}

// QueryPayment fetches the checkout order. The order status string is the
// provider-native code.
func (p *PayPalProvider) QueryPayment(ctx context.Context, orderID, providerRef string) (*QueryResult, error) {
	rsp, err := p.client.OrderDetail(ctx, providerRef, nil)
	if err != nil {
		return nil, fmt.Errorf("paypal order detail: %w: %v", ErrUnreachable, err)
	}
	if rsp.Code != paypal.Success {
		return nil, fmt.Errorf("paypal order detail rejected: %s", rsp.Error)
	}

	var amount int64
	for _, pu := range rsp.Response.PurchaseUnits {
		if pu.Amount != nil {
			amount += majorToMinor(pu.Amount.Value)
		}
	}

	return &QueryResult{
		ProviderRef: rsp.Response.Id,
		Amount:      amount,
		Code:        rsp.Response.Status,
		Message:     rsp.Response.Status,
		Raw: map[string]any{
			"id":     rsp.Response.Id,
			"status": rsp.Response.Status,
		},
	}, nil
}

// Refund refunds a captured order. PayPal refunds address the capture, not
// the order, so the capture ID is resolved from the order first.
func (p *PayPalProvider) Refund(ctx context.Context, params *RefundParams) (*RefundResult, error) {
	captureID, currency, err := p.captureOf(ctx, params.ProviderRef)
	if err != nil {
		return nil, err
	}

	bm := make(gopay.BodyMap)
	bm.Set("invoice_id", params.RefundID)
	if params.Reason != "" {
		bm.Set("note_to_payer", params.Reason)
	}
	if params.Amount > 0 && params.Amount < params.TotalAmount {
		bm.SetBodyMap("amount", func(b gopay.BodyMap) {
			b.Set("currency_code", currency)
			b.Set("value", minorToMajor(params.Amount))
		})
	}

	rsp, err := p.client.PaymentCaptureRefund(ctx, captureID, bm)
	if err != nil {
		return nil, fmt.Errorf("paypal refund: %w: %v", ErrUnreachable, err)
	}
	if rsp.Code != paypal.Success {
		return nil, fmt.Errorf("paypal refund rejected: %s", rsp.Error)
	}

	return &RefundResult{
		ProviderRefundID: rsp.Response.Id,
		Code:             rsp.Response.Status,
		Message:          rsp.Response.Status,
		Raw: map[string]any{
			"id":     rsp.Response.Id,
			"status": rsp.Response.Status,
		},
	}, nil
}

// captureOf resolves the completed capture behind a checkout order.
func (p *PayPalProvider) captureOf(ctx context.Context, paypalOrderID string) (captureID, currency string, err error) {
	rsp, err := p.client.OrderDetail(ctx, paypalOrderID, nil)
	if err != nil {
		return "", "", fmt.Errorf("paypal order detail: %w: %v", ErrUnreachable, err)
	}
	if rsp.Code != paypal.Success {
		return "", "", fmt.Errorf("paypal order detail rejected: %s", rsp.Error)
	}

	for _, pu := range rsp.Response.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, cap := range pu.Payments.Captures {
			if cap.Status == "COMPLETED" || cap.Status == "PARTIALLY_REFUNDED" {
				cur := ""
				if cap.Amount != nil {
					cur = cap.Amount.CurrencyCode
				}
				return cap.Id, cur, nil
			}
		}
	}
	return "", "", errors.New("paypal order has no completed capture")
}

// paypalEvent is the webhook envelope PayPal POSTs.
type paypalEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

// ParseNotify verifies the transmission signature against the configured
// PayPal certificate and extracts the affected order.
func (p *PayPalProvider) ParseNotify(ctx context.Context, body []byte, req *http.Request) (*NotifyResult, error) {
	if err := p.verifyTransmission(body, req); err != nil {
		return nil, err
	}

	var event paypalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("paypal notify: decode event: %w", err)
	}

	var res struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		CustomID string `json:"custom_id"`
		Amount   *struct {
			Value string `json:"value"`
		} `json:"amount"`
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			CustomID    string `json:"custom_id"`
		} `json:"purchase_units"`
		SupplementaryData *struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	}
	if err := json.Unmarshal(event.Resource, &res); err != nil {
		return nil, fmt.Errorf("paypal notify: decode resource: %w", err)
	}

	orderID := res.CustomID
	if orderID == "" && len(res.PurchaseUnits) > 0 {
		orderID = res.PurchaseUnits[0].CustomID
		if orderID == "" {
			orderID = res.PurchaseUnits[0].ReferenceID
		}
	}

	providerRef := res.ID
	if res.SupplementaryData != nil && res.SupplementaryData.RelatedIDs.OrderID != "" {
		providerRef = res.SupplementaryData.RelatedIDs.OrderID
	}

	var amount int64
	if res.Amount != nil {
		amount = majorToMinor(res.Amount.Value)
	}

	return &NotifyResult{
		EventID:     event.ID,
		OrderID:     orderID,
		ProviderRef: providerRef,
		Amount:      amount,
		Code:        event.EventType,
		Message:     res.Status,
		Raw:         rawMap(body),
		RawBody:     string(body),
		Ack:         "",
	}, nil
}

// verifyTransmission checks the SHA256-RSA signature PayPal sends with each
// webhook: sign(transmissionID|timestamp|webhookID|crc32(body)).
func (p *PayPalProvider) verifyTransmission(body []byte, req *http.Request) error {
	transmissionID := req.Header.Get("Paypal-Transmission-Id")
	timestamp := req.Header.Get("Paypal-Transmission-Time")
	signature := req.Header.Get("Paypal-Transmission-Sig")
	if transmissionID == "" || timestamp == "" || signature == "" {
		return ErrInvalidSignature
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	pub, err := parseRSAPublicKey(p.config.WebhookCert)
	if err != nil {
		return fmt.Errorf("paypal webhook cert: %w", err)
	}

	message := fmt.Sprintf("%s|%s|%s|%d",
		transmissionID, timestamp, p.config.WebhookID, crc32.ChecksumIEEE(body))
	digest := sha256.Sum256([]byte(message))

	if rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) != nil {
		return ErrInvalidSignature
	}
	return nil
}

// parseRSAPublicKey parses a PEM block holding either a bare public key or
// a certificate.
func parseRSAPublicKey(pemKey string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate does not contain RSA public key")
		}
		return rsaKey, nil
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}

// minorToMajor renders minor units as the decimal string PayPal expects.
// Only two-decimal currencies are routed through PayPal.
func minorToMajor(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// majorToMinor parses a PayPal decimal amount back into minor units.
func majorToMinor(value string) int64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(f*100 + 0.5)
}
