package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// VNPayConfig holds VNPay gateway configuration.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string // Hosted gateway, e.g. https://sandbox.vnpayment.vn/paymentv2/vpcpay.html
	APIURL     string // Merchant API, e.g. https://sandbox.vnpayment.vn/merchant_webapi/api/transaction
	ReturnURL  string
	Timeout    time.Duration
}

// VNPayProvider implements Provider for the VNPay bank gateway. Creating a
// payment is a local URL build signed with HMAC-SHA512; no network call is
// made until the payer is redirected.
type VNPayProvider struct {
	config *VNPayConfig
	http   *httpClient
	now    func() time.Time
}

// NewVNPayProvider creates a new VNPay provider.
func NewVNPayProvider(config *VNPayConfig) *VNPayProvider {
	return &VNPayProvider{
		config: config,
		http:   newHTTPClient("vnpay", config.Timeout),
		now:    time.Now,
	}
}

// Name returns the provider name.
func (p *VNPayProvider) Name() domain.Provider {
	return domain.ProviderVNPay
}

// CreateIntent builds the signed redirect URL. VNPay amounts are expressed
// in VND x100 on the wire.
func (p *VNPayProvider) CreateIntent(ctx context.Context, params *IntentParams) (*IntentResult, error) {
	now := p.now()
	returnURL := params.ReturnURL
	if returnURL == "" {
		returnURL = p.config.ReturnURL
	}
	clientIP := params.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	vals := url.Values{}
	vals.Set("vnp_Version", "2.1.0")
	vals.Set("vnp_Command", "pay")
	vals.Set("vnp_TmnCode", p.config.TmnCode)
	vals.Set("vnp_Amount", strconv.FormatInt(params.Amount*100, 10))
	vals.Set("vnp_CurrCode", "VND")
	vals.Set("vnp_TxnRef", params.OrderID)
	vals.Set("vnp_OrderInfo", params.Description)
	vals.Set("vnp_OrderType", "other")
	vals.Set("vnp_Locale", "vn")
	vals.Set("vnp_ReturnUrl", returnURL)
	vals.Set("vnp_IpAddr", clientIP)
	vals.Set("vnp_CreateDate", now.Format("20060102150405"))
	vals.Set("vnp_ExpireDate", now.Add(15*time.Minute).Format("20060102150405"))

	signed := signedQuery(vals, p.config.HashSecret)

	return &IntentResult{
		PayURL: p.config.PayURL + "?" + signed,
		Raw: map[string]any{
			"vnp_TxnRef":     params.OrderID,
			"vnp_Amount":     params.Amount * 100,
			"vnp_CreateDate": vals.Get("vnp_CreateDate"),
			"vnp_ExpireDate": vals.Get("vnp_ExpireDate"),
		},
	}, nil
}

// QueryPayment queries the transaction through the merchant API.
func (p *VNPayProvider) QueryPayment(ctx context.Context, orderID, providerRef string) (*QueryResult, error) {
	now := p.now()
	requestID := uuid.NewString()
	createDate := now.Format("20060102150405")
	orderInfo := "query " + orderID

	raw := strings.Join([]string{
		requestID, "2.1.0", "querydr", p.config.TmnCode, orderID,
		createDate, createDate, "127.0.0.1", orderInfo,
	}, "|")

	body := map[string]any{
		"vnp_RequestId":       requestID,
		"vnp_Version":         "2.1.0",
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         p.config.TmnCode,
		"vnp_TxnRef":          orderID,
		"vnp_OrderInfo":       orderInfo,
		"vnp_TransactionDate": createDate,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          "127.0.0.1",
		"vnp_SecureHash":      hmacSHA512(p.config.HashSecret, raw),
	}

	respBody, err := p.http.PostJSON(ctx, p.config.APIURL, body)
	if err != nil {
		return nil, fmt.Errorf("vnpay query: %w", err)
	}

	var resp struct {
		ResponseCode      string `json:"vnp_ResponseCode"`
		Message           string `json:"vnp_Message"`
		TransactionNo     string `json:"vnp_TransactionNo"`
		TransactionStatus string `json:"vnp_TransactionStatus"`
		Amount            string `json:"vnp_Amount"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("vnpay query: decode response: %w", err)
	}

	amount, _ := strconv.ParseInt(resp.Amount, 10, 64)
	code := resp.TransactionStatus
	if code == "" {
		code = resp.ResponseCode
	}

	return &QueryResult{
		ProviderRef: resp.TransactionNo,
		Amount:      amount / 100,
		Code:        code,
		Message:     resp.Message,
		Raw:         rawMap(respBody),
	}, nil
}

// Refund instructs the gateway to return funds. Transaction type 02 is a
// full refund, 03 partial.
func (p *VNPayProvider) Refund(ctx context.Context, params *RefundParams) (*RefundResult, error) {
	now := p.now()
	requestID := uuid.NewString()
	createDate := now.Format("20060102150405")
	transType := "03"
	if params.Amount >= params.TotalAmount {
		transType = "02"
	}
	amount := strconv.FormatInt(params.Amount*100, 10)
	orderInfo := "refund " + params.RefundID
	createBy := "system"

	raw := strings.Join([]string{
		requestID, "2.1.0", "refund", p.config.TmnCode, transType, params.OrderID,
		amount, params.ProviderRef, createDate, createBy, createDate, "127.0.0.1", orderInfo,
	}, "|")

	body := map[string]any{
		"vnp_RequestId":       requestID,
		"vnp_Version":         "2.1.0",
		"vnp_Command":         "refund",
		"vnp_TmnCode":         p.config.TmnCode,
		"vnp_TransactionType": transType,
		"vnp_TxnRef":          params.OrderID,
		"vnp_Amount":          amount,
		"vnp_TransactionNo":   params.ProviderRef,
		"vnp_TransactionDate": createDate,
		"vnp_CreateBy":        createBy,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          "127.0.0.1",
		"vnp_OrderInfo":       orderInfo,
		"vnp_SecureHash":      hmacSHA512(p.config.HashSecret, raw),
	}

	respBody, err := p.http.PostJSON(ctx, p.config.APIURL, body)
	if err != nil {
		return nil, fmt.Errorf("vnpay refund: %w", err)
	}

	var resp struct {
		ResponseCode  string `json:"vnp_ResponseCode"`
		Message       string `json:"vnp_Message"`
		TransactionNo string `json:"vnp_TransactionNo"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("vnpay refund: decode response: %w", err)
	}
	if resp.ResponseCode != "00" {
		return nil, fmt.Errorf("vnpay refund rejected: %s - %s", resp.ResponseCode, resp.Message)
	}

	return &RefundResult{
		ProviderRefundID: resp.TransactionNo,
		Code:             resp.ResponseCode,
		Message:          resp.Message,
		Raw:              rawMap(respBody),
	}, nil
}

// ParseNotify authenticates a VNPay IPN, which arrives as query parameters
// on a GET request.
func (p *VNPayProvider) ParseNotify(ctx context.Context, body []byte, req *http.Request) (*NotifyResult, error) {
	params := req.URL.Query()
	if len(params) == 0 && len(body) > 0 {
		// Some integrations deliver the IPN as an urlencoded POST body.
		parsed, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("vnpay notify: decode payload: %w", err)
		}
		params = parsed
	}

	secureHash := params.Get("vnp_SecureHash")
	if secureHash == "" {
		return nil, ErrInvalidSignature
	}

	vals := url.Values{}
	for k, vs := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" || len(vs) == 0 {
			continue
		}
		vals.Set(k, vs[0])
	}

	expected := hmacSHA512(p.config.HashSecret, sortedEncode(vals))
	if !hmac.Equal([]byte(strings.ToLower(secureHash)), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	amount, _ := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	code := params.Get("vnp_TransactionStatus")
	if code == "" {
		code = params.Get("vnp_ResponseCode")
	}

	raw := make(map[string]any, len(vals))
	for k := range vals {
		raw[k] = vals.Get(k)
	}

	return &NotifyResult{
		EventID:     params.Get("vnp_TransactionNo"),
		OrderID:     params.Get("vnp_TxnRef"),
		ProviderRef: params.Get("vnp_TransactionNo"),
		Amount:      amount / 100,
		Code:        code,
		Message:     params.Get("vnp_OrderInfo"),
		Raw:         raw,
		RawBody:     vals.Encode(),
		Ack:         `{"RspCode":"00","Message":"Confirm Success"}`,
	}, nil
}

// sortedEncode encodes values in alphabetical key order, the canonical form
// VNPay signs.
func sortedEncode(vals url.Values) string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(vals.Get(k)))
	}
	return sb.String()
}

// signedQuery returns the sorted, encoded query with vnp_SecureHash appended.
func signedQuery(vals url.Values, secret string) string {
	encoded := sortedEncode(vals)
	return encoded + "&vnp_SecureHash=" + hmacSHA512(secret, encoded)
}

func hmacSHA512(secret, raw string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
