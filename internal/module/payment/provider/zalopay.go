package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// ZaloPayConfig holds ZaloPay configuration. Key1 signs outbound requests,
// Key2 authenticates callbacks.
type ZaloPayConfig struct {
	AppID       int
	Key1        string
	Key2        string
	Endpoint    string // API base, e.g. https://sb-openapi.zalopay.vn
	CallbackURL string
	Timeout     time.Duration
}

// ZaloPayProvider implements Provider for the ZaloPay e-wallet.
type ZaloPayProvider struct {
	config *ZaloPayConfig
	http   *httpClient
}

// NewZaloPayProvider creates a new ZaloPay provider.
func NewZaloPayProvider(config *ZaloPayConfig) *ZaloPayProvider {
	return &ZaloPayProvider{
		config: config,
		http:   newHTTPClient("zalopay", config.Timeout),
	}
}

// Name returns the provider name.
func (p *ZaloPayProvider) Name() domain.Provider {
	return domain.ProviderZaloPay
}

// appTransID builds the yymmdd-prefixed transaction ID ZaloPay requires.
func (p *ZaloPayProvider) appTransID(orderID string) string {
	return fmt.Sprintf("%s_%s", time.Now().Format("060102"), orderID)
}

// CreateIntent opens a ZaloPay order and returns the order URL and QR code.
func (p *ZaloPayProvider) CreateIntent(ctx context.Context, params *IntentParams) (*IntentResult, error) {
	appTransID := p.appTransID(params.OrderID)
	appTime := time.Now().UnixMilli()
	appUser := params.Metadata["user_id"]
	if appUser == "" {
		appUser = "guest"
	}

	embedData, _ := json.Marshal(map[string]string{"order_id": params.OrderID})
	item := "[]"

	mac := p.signKey1(fmt.Sprintf("%d|%s|%s|%d|%d|%s|%s",
		p.config.AppID, appTransID, appUser, params.Amount, appTime, embedData, item))

	form := url.Values{}
	form.Set("app_id", strconv.Itoa(p.config.AppID))
	form.Set("app_user", appUser)
	form.Set("app_trans_id", appTransID)
	form.Set("app_time", strconv.FormatInt(appTime, 10))
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("item", item)
	form.Set("embed_data", string(embedData))
	form.Set("description", params.Description)
	form.Set("callback_url", p.config.CallbackURL)
	form.Set("mac", mac)

	respBody, err := p.http.PostForm(ctx, p.config.Endpoint+"/v2/create", form.Encode())
	if err != nil {
		return nil, fmt.Errorf("zalopay create: %w", err)
	}

	var resp struct {
		ReturnCode    int    `json:"return_code"`
		ReturnMessage string `json:"return_message"`
		SubReturnCode int    `json:"sub_return_code"`
		OrderURL      string `json:"order_url"`
		ZPTransToken  string `json:"zp_trans_token"`
		QRCode        string `json:"qr_code"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("zalopay create: decode response: %w", err)
	}
	if resp.ReturnCode != 1 {
		return nil, fmt.Errorf("zalopay create rejected: %d/%d - %s",
			resp.ReturnCode, resp.SubReturnCode, resp.ReturnMessage)
	}

	return &IntentResult{
		ProviderRef: appTransID,
		PayURL:      resp.OrderURL,
		QRCode:      resp.QRCode,
		Raw:         rawMap(respBody),
	}, nil
}

// QueryPayment queries the order status by app_trans_id.
func (p *ZaloPayProvider) QueryPayment(ctx context.Context, orderID, providerRef string) (*QueryResult, error) {
	// After capture the stored reference is the numeric zp_trans_id; the
	// query API keys on app_trans_id, so rebuild it when needed.
	appTransID := providerRef
	if !strings.Contains(appTransID, "_") {
		appTransID = p.appTransID(orderID)
	}

	mac := p.signKey1(fmt.Sprintf("%d|%s|%s", p.config.AppID, appTransID, p.config.Key1))

	form := url.Values{}
	form.Set("app_id", strconv.Itoa(p.config.AppID))
	form.Set("app_trans_id", appTransID)
	form.Set("mac", mac)

	respBody, err := p.http.PostForm(ctx, p.config.Endpoint+"/v2/query", form.Encode())
	if err != nil {
		return nil, fmt.Errorf("zalopay query: %w", err)
	}

	var resp struct {
		ReturnCode    int    `json:"return_code"`
		ReturnMessage string `json:"return_message"`
		ZPTransID     int64  `json:"zp_trans_id"`
		Amount        int64  `json:"amount"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("zalopay query: decode response: %w", err)
	}

	return &QueryResult{
		ProviderRef: appTransID,
		Amount:      resp.Amount,
		Code:        strconv.Itoa(resp.ReturnCode),
		Message:     resp.ReturnMessage,
		Raw:         rawMap(respBody),
	}, nil
}

// Refund returns funds against a ZaloPay transaction.
func (p *ZaloPayProvider) Refund(ctx context.Context, params *RefundParams) (*RefundResult, error) {
	timestamp := time.Now().UnixMilli()
	mRefundID := fmt.Sprintf("%s_%d_%s", time.Now().Format("060102"), p.config.AppID, params.RefundID)

	zpTransID := params.ProviderRef
	mac := p.signKey1(fmt.Sprintf("%d|%s|%d|%s|%d",
		p.config.AppID, zpTransID, params.Amount, params.Reason, timestamp))

	form := url.Values{}
	form.Set("app_id", strconv.Itoa(p.config.AppID))
	form.Set("m_refund_id", mRefundID)
	form.Set("zp_trans_id", zpTransID)
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("timestamp", strconv.FormatInt(timestamp, 10))
	form.Set("description", params.Reason)
	form.Set("mac", mac)

	respBody, err := p.http.PostForm(ctx, p.config.Endpoint+"/v2/refund", form.Encode())
	if err != nil {
		return nil, fmt.Errorf("zalopay refund: %w", err)
	}

	var resp struct {
		ReturnCode    int    `json:"return_code"`
		ReturnMessage string `json:"return_message"`
		RefundID      int64  `json:"refund_id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("zalopay refund: decode response: %w", err)
	}
	// return_code 3 means the refund is processing, which still counts as
	// accepted. Only 2 is a hard rejection.
	if resp.ReturnCode == 2 {
		return nil, fmt.Errorf("zalopay refund rejected: %s", resp.ReturnMessage)
	}

	return &RefundResult{
		ProviderRefundID: strconv.FormatInt(resp.RefundID, 10),
		Code:             strconv.Itoa(resp.ReturnCode),
		Message:          resp.ReturnMessage,
		Raw:              rawMap(respBody),
	}, nil
}

// zaloCallback is the envelope ZaloPay POSTs to the callback URL. The data
// field is a JSON string signed with Key2.
type zaloCallback struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

// ParseNotify authenticates a ZaloPay callback. ZaloPay only notifies on
// successful capture, so the code is always the success return code.
func (p *ZaloPayProvider) ParseNotify(ctx context.Context, body []byte, req *http.Request) (*NotifyResult, error) {
	var cb zaloCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("zalopay notify: decode envelope: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(p.config.Key2))
	mac.Write([]byte(cb.Data))
	if !hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(cb.Mac)) {
		return nil, ErrInvalidSignature
	}

	var data struct {
		AppID      int    `json:"app_id"`
		AppTransID string `json:"app_trans_id"`
		AppTime    int64  `json:"app_time"`
		Amount     int64  `json:"amount"`
		EmbedData  string `json:"embed_data"`
		ZPTransID  int64  `json:"zp_trans_id"`
		ServerTime int64  `json:"server_time"`
	}
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		return nil, fmt.Errorf("zalopay notify: decode data: %w", err)
	}

	var embed struct {
		OrderID string `json:"order_id"`
	}
	_ = json.Unmarshal([]byte(data.EmbedData), &embed)
	orderID := embed.OrderID
	if orderID == "" {
		// app_trans_id is yymmdd_<order id>; recover the suffix.
		if i := len("060102_"); len(data.AppTransID) > i {
			orderID = data.AppTransID[i:]
		}
	}

	return &NotifyResult{
		EventID:     strconv.FormatInt(data.ZPTransID, 10),
		OrderID:     orderID,
		ProviderRef: strconv.FormatInt(data.ZPTransID, 10),
		Amount:      data.Amount,
		Code:        "1",
		Message:     "success",
		Raw:         rawMap([]byte(cb.Data)),
		RawBody:     string(body),
		Ack:         `{"return_code":1,"return_message":"success"}`,
	}, nil
}

func (p *ZaloPayProvider) signKey1(raw string) string {
	mac := hmac.New(sha256.New, []byte(p.config.Key1))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
