package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// MoMoConfig holds MoMo wallet configuration.
type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string // API base, e.g. https://test-payment.momo.vn
	IPNURL      string
	ReturnURL   string
	Timeout     time.Duration
}

// MoMoProvider implements Provider for the MoMo e-wallet. All requests and
// callbacks are authenticated with HMAC-SHA256 over an alphabetically
// ordered key=value string.
type MoMoProvider struct {
	config *MoMoConfig
	http   *httpClient
}

// NewMoMoProvider creates a new MoMo provider.
func NewMoMoProvider(config *MoMoConfig) *MoMoProvider {
	return &MoMoProvider{
		config: config,
		http:   newHTTPClient("momo", config.Timeout),
	}
}

// Name returns the provider name.
func (p *MoMoProvider) Name() domain.Provider {
	return domain.ProviderMoMo
}

// CreateIntent opens a captureWallet payment and returns the pay URL, QR
// content and app deeplink MoMo hands back.
func (p *MoMoProvider) CreateIntent(ctx context.Context, params *IntentParams) (*IntentResult, error) {
	requestID := uuid.NewString()
	extraData := ""
	if len(params.Metadata) > 0 {
		b, _ := json.Marshal(params.Metadata)
		extraData = string(b)
	}
	returnURL := params.ReturnURL
	if returnURL == "" {
		returnURL = p.config.ReturnURL
	}

	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		p.config.AccessKey, params.Amount, extraData, p.config.IPNURL, params.OrderID,
		params.Description, p.config.PartnerCode, returnURL, requestID, "captureWallet",
	)

	body := map[string]any{
		"partnerCode": p.config.PartnerCode,
		"requestId":   requestID,
		"amount":      params.Amount,
		"orderId":     params.OrderID,
		"orderInfo":   params.Description,
		"redirectUrl": returnURL,
		"ipnUrl":      p.config.IPNURL,
		"requestType": "captureWallet",
		"extraData":   extraData,
		"lang":        "en",
		"signature":   p.sign(raw),
	}

	respBody, err := p.http.PostJSON(ctx, p.config.Endpoint+"/v2/gateway/api/create", body)
	if err != nil {
		return nil, fmt.Errorf("momo create: %w", err)
	}

	var resp struct {
		PartnerCode string `json:"partnerCode"`
		RequestID   string `json:"requestId"`
		OrderID     string `json:"orderId"`
		ResultCode  int    `json:"resultCode"`
		Message     string `json:"message"`
		PayURL      string `json:"payUrl"`
		Deeplink    string `json:"deeplink"`
		QRCodeURL   string `json:"qrCodeUrl"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("momo create: decode response: %w", err)
	}
	if resp.ResultCode != 0 {
		return nil, fmt.Errorf("momo create rejected: %d - %s", resp.ResultCode, resp.Message)
	}

	return &IntentResult{
		PayURL:   resp.PayURL,
		QRCode:   resp.QRCodeURL,
		Deeplink: resp.Deeplink,
		Raw:      rawMap(respBody),
	}, nil
}

// QueryPayment queries the transaction status by order ID.
func (p *MoMoProvider) QueryPayment(ctx context.Context, orderID, providerRef string) (*QueryResult, error) {
	requestID := uuid.NewString()
	raw := fmt.Sprintf("accessKey=%s&orderId=%s&partnerCode=%s&requestId=%s",
		p.config.AccessKey, orderID, p.config.PartnerCode, requestID)

	body := map[string]any{
		"partnerCode": p.config.PartnerCode,
		"requestId":   requestID,
		"orderId":     orderID,
		"lang":        "en",
		"signature":   p.sign(raw),
	}

	respBody, err := p.http.PostJSON(ctx, p.config.Endpoint+"/v2/gateway/api/query", body)
	if err != nil {
		return nil, fmt.Errorf("momo query: %w", err)
	}

	var resp struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
		TransID    int64  `json:"transId"`
		Amount     int64  `json:"amount"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("momo query: decode response: %w", err)
	}

	return &QueryResult{
		ProviderRef: formatTransID(resp.TransID),
		Amount:      resp.Amount,
		Code:        strconv.Itoa(resp.ResultCode),
		Message:     resp.Message,
		Raw:         rawMap(respBody),
	}, nil
}

// Refund returns funds against a captured transaction. MoMo requires a
// fresh order ID per refund attempt, so the refund ID doubles as one.
func (p *MoMoProvider) Refund(ctx context.Context, params *RefundParams) (*RefundResult, error) {
	requestID := uuid.NewString()
	transID, _ := strconv.ParseInt(params.ProviderRef, 10, 64)

	raw := fmt.Sprintf("accessKey=%s&amount=%d&description=%s&orderId=%s&partnerCode=%s&requestId=%s&transId=%d",
		p.config.AccessKey, params.Amount, params.Reason, params.RefundID,
		p.config.PartnerCode, requestID, transID)

	body := map[string]any{
		"partnerCode": p.config.PartnerCode,
		"orderId":     params.RefundID,
		"requestId":   requestID,
		"amount":      params.Amount,
		"transId":     transID,
		"lang":        "en",
		"description": params.Reason,
		"signature":   p.sign(raw),
	}

	respBody, err := p.http.PostJSON(ctx, p.config.Endpoint+"/v2/gateway/api/refund", body)
	if err != nil {
		return nil, fmt.Errorf("momo refund: %w", err)
	}

	var resp struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
		TransID    int64  `json:"transId"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("momo refund: decode response: %w", err)
	}
	if resp.ResultCode != 0 {
		return nil, fmt.Errorf("momo refund rejected: %d - %s", resp.ResultCode, resp.Message)
	}

	return &RefundResult{
		ProviderRefundID: formatTransID(resp.TransID),
		Code:             strconv.Itoa(resp.ResultCode),
		Message:          resp.Message,
		Raw:              rawMap(respBody),
	}, nil
}

// momoNotify is the IPN payload sent by MoMo.
type momoNotify struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// ParseNotify authenticates a MoMo IPN. The acknowledgement echoes the
// partner code, request ID and order ID with a zero result code.
func (p *MoMoProvider) ParseNotify(ctx context.Context, body []byte, req *http.Request) (*NotifyResult, error) {
	var n momoNotify
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("momo notify: decode payload: %w", err)
	}

	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		p.config.AccessKey, n.Amount, n.ExtraData, n.Message, n.OrderID, n.OrderInfo,
		n.OrderType, n.PartnerCode, n.PayType, n.RequestID, n.ResponseTime, n.ResultCode, n.TransID,
	)
	if !hmac.Equal([]byte(p.sign(raw)), []byte(n.Signature)) {
		return nil, ErrInvalidSignature
	}

	ack, _ := json.Marshal(map[string]any{
		"partnerCode": n.PartnerCode,
		"requestId":   n.RequestID,
		"orderId":     n.OrderID,
		"resultCode":  0,
		"message":     "success",
	})

	return &NotifyResult{
		EventID:     n.RequestID,
		OrderID:     n.OrderID,
		ProviderRef: formatTransID(n.TransID),
		Amount:      n.Amount,
		Code:        strconv.Itoa(n.ResultCode),
		Message:     n.Message,
		Raw:         rawMap(body),
		RawBody:     string(body),
		Ack:         string(ack),
	}, nil
}

func (p *MoMoProvider) sign(raw string) string {
	mac := hmac.New(sha256.New, []byte(p.config.SecretKey))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatTransID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// rawMap decodes a JSON body into a generic map for the audit trail.
// Invalid JSON yields nil rather than failing the operation.
func rawMap(body []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return m
}
