package payment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/flowpay/server/internal/shared/errors"
	"github.com/flowpay/server/internal/shared/response"
)

// Handler handles HTTP requests for payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("/create", h.CreatePayment)
		payments.GET("/list", h.ListPayments)
		payments.POST("/list", h.ListPayments)
		payments.GET("/status/:orderId", h.GetStatus)
		payments.POST("/refund/:orderId", h.Refund)
		payments.GET("/events/:orderId", h.ListEvents)
	}
}

// CreatePayment creates a payment intent with the requested provider.
func (h *Handler) CreatePayment(c *gin.Context) {
	userID := getUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FromError(c, apperrors.ValidationError(err.Error()))
		return
	}
	req.clientIP = c.ClientIP()

	resp, err := h.service.CreatePayment(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, resp)
}

// GetStatus returns the payment, refreshed from the provider when the
// stored status is still pending resolution.
func (h *Handler) GetStatus(c *gin.Context) {
	userID := getUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "authentication required")
		return
	}

	resp, err := h.service.GetStatus(c.Request.Context(), userID, c.Param("orderId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, resp)
}

// ListPayments returns the caller's payments, newest first.
func (h *Handler) ListPayments(c *gin.Context) {
	userID := getUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "authentication required")
		return
	}

	// The listing is reachable by GET with query parameters or by POST
	// with a JSON body carrying the same filter.
	var q ListPaymentsQuery
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&q)
	} else {
		err = c.ShouldBindQuery(&q)
	}
	if err != nil {
		response.FromError(c, apperrors.ValidationError(err.Error()))
		return
	}

	resp, err := h.service.ListPayments(c.Request.Context(), userID, &q)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, resp)
}

// Refund refunds a completed payment, in full or in part.
func (h *Handler) Refund(c *gin.Context) {
	userID := getUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FromError(c, apperrors.ValidationError(err.Error()))
		return
	}

	resp, err := h.service.Refund(c.Request.Context(), userID, c.Param("orderId"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, resp)
}

// ListEvents returns the append-only event trail of a payment.
func (h *Handler) ListEvents(c *gin.Context) {
	userID := getUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "authentication required")
		return
	}

	resp, err := h.service.ListEvents(c.Request.Context(), userID, c.Param("orderId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, resp)
}

func getUserID(c *gin.Context) uuid.UUID {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return userID
}
