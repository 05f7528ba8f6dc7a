package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowpay/server/internal/module/payment/domain"
	"github.com/flowpay/server/internal/module/payment/provider"
	"github.com/flowpay/server/internal/shared/metrics"
)

// WebhookHandler ingests provider push notifications. Responses are raw
// provider acknowledgment envelopes, not the API's JSON envelope; each
// provider's delivery contract dictates the exact body it expects back.
type WebhookHandler struct {
	repo       Repository
	registry   *ProviderRegistry
	reconciler *Reconciler
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(
	repo Repository,
	registry *ProviderRegistry,
	reconciler *Reconciler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		repo:       repo,
		registry:   registry,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
	}
}

// RegisterRoutes registers the webhook routes. The GET route doubles as
// the registration challenge echo and as the delivery channel for gateways
// that notify via redirect-style GET requests.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:provider", h.HandleNotify)
	r.GET("/payments/:provider", h.HandleChallenge)
}

// HandleNotify handles an incoming provider notification.
func (h *WebhookHandler) HandleNotify(c *gin.Context) {
	providerName := domain.Provider(c.Param("provider"))
	prov, err := h.registry.Get(providerName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	h.process(c, prov, body)
}

// HandleChallenge answers provider registration probes. VNPay delivers its
// IPN as a signed GET, so signed requests are routed into the pipeline.
func (h *WebhookHandler) HandleChallenge(c *gin.Context) {
	providerName := domain.Provider(c.Param("provider"))
	prov, err := h.registry.Get(providerName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	if c.Query("vnp_SecureHash") != "" {
		h.process(c, prov, nil)
		return
	}

	// Registration echo: reflect the challenge token if one was sent.
	if challenge := c.Query("challenge"); challenge != "" {
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusOK)
}

func (h *WebhookHandler) process(c *gin.Context, prov provider.Provider, body []byte) {
	ctx := c.Request.Context()
	providerName := prov.Name()

	n, err := prov.ParseNotify(ctx, body, c.Request)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidSignature) {
			h.logger.Warn("webhook signature verification failed",
				zap.String("provider", string(providerName)),
				zap.String("remote_addr", c.ClientIP()))
			h.metrics.WebhooksTotal.WithLabelValues(string(providerName), "invalid_signature").Inc()
			h.rejectSignature(c, providerName)
			return
		}
		h.logger.Warn("webhook payload rejected",
			zap.String("provider", string(providerName)), zap.Error(err))
		h.metrics.WebhooksTotal.WithLabelValues(string(providerName), "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	p, err := h.repo.GetPaymentByOrderID(ctx, n.OrderID)
	if err != nil {
		h.logger.Warn("webhook for unknown order",
			zap.String("provider", string(providerName)),
			zap.String("order_id", n.OrderID))
		h.metrics.WebhooksTotal.WithLabelValues(string(providerName), "unknown_order").Inc()
		h.rejectUnknownOrder(c, providerName)
		return
	}
	if p.Provider() != providerName {
		h.logger.Warn("webhook provider does not match payment",
			zap.String("order_id", n.OrderID),
			zap.String("payment_provider", string(p.Provider())),
			zap.String("webhook_provider", string(providerName)))
		h.metrics.WebhooksTotal.WithLabelValues(string(providerName), "unknown_order").Inc()
		h.rejectUnknownOrder(c, providerName)
		return
	}

	// Exact redelivery of an already-recorded event: acknowledge without
	// touching anything.
	if seen, err := h.repo.EventSeen(ctx, providerName, n.EventID); err == nil && seen {
		h.logger.Info("webhook event already processed",
			zap.String("provider", string(providerName)),
			zap.String("event_id", n.EventID))
		h.metrics.WebhooksTotal.WithLabelValues(string(providerName), "replay").Inc()
		h.ack(c, n)
		return
	}

	applied, changed, err := h.reconciler.Apply(ctx, p.ID(), &Observation{
		Provider:    providerName,
		Code:        n.Code,
		Message:     n.Message,
		ProviderRef: n.ProviderRef,
		EventType:   domain.EventWebhook,
		Raw:         n.Raw,
	})
	if err != nil {
		h.logger.Error("failed to apply webhook",
			zap.String("provider", string(providerName)),
			zap.String("order_id", n.OrderID),
			zap.Error(err))
		h.metrics.WebhooksTotal.WithLabelValues(string(providerName), "error").Inc()
		// 5xx makes the provider redeliver.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	if changed {
		ev := domain.NewPaymentEvent(applied.ID(), domain.EventWebhook, applied.Status(),
			providerName, n.EventID, n.RawBody)
		if err := h.repo.AppendEvent(ctx, ev); err != nil {
			h.logger.Error("failed to append webhook event",
				zap.String("order_id", n.OrderID), zap.Error(err))
		}
		h.metrics.ReconciliationsTotal.WithLabelValues(string(providerName), string(applied.Status())).Inc()
	}

	h.metrics.WebhooksTotal.WithLabelValues(string(providerName), "ok").Inc()
	h.ack(c, n)
}

// ack responds with the provider's expected acknowledgment envelope.
func (h *WebhookHandler) ack(c *gin.Context, n *provider.NotifyResult) {
	if n.Ack == "" {
		c.Status(http.StatusOK)
		return
	}
	contentType := n.AckContent
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(http.StatusOK, contentType, []byte(n.Ack))
}

// rejectSignature answers a failed signature check. VNPay expects an HTTP
// 200 carrying its own error code; everyone else gets a 400.
func (h *WebhookHandler) rejectSignature(c *gin.Context, providerName domain.Provider) {
	if providerName == domain.ProviderVNPay {
		c.JSON(http.StatusOK, gin.H{"RspCode": "97", "Message": "Invalid Signature"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
}

// rejectUnknownOrder answers a notification that references no known
// payment.
func (h *WebhookHandler) rejectUnknownOrder(c *gin.Context, providerName domain.Provider) {
	if providerName == domain.ProviderVNPay {
		c.JSON(http.StatusOK, gin.H{"RspCode": "01", "Message": "Order Not Found"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
}
