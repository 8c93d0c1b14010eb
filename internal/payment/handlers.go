package payment

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/logging"
	"github.com/assetbay/assetbay/internal/validation"
)

// Handler provides HTTP endpoints for payment operations.
type Handler struct {
	service *Service
	parser  WebhookParser
}

// NewHandler creates a new payment handler. parser may be nil when the
// configured processor has no webhook rail (stub mode).
func NewHandler(service *Service, parser WebhookParser) *Handler {
	return &Handler{service: service, parser: parser}
}

// RegisterRoutes sets up the unauthenticated processor callback.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/processor", h.ProcessorWebhook)
}

// RegisterProtectedRoutes sets up the authenticated payment routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/payments", h.CreatePayment)
	r.GET("/orders/:id/payments", h.ListOrderPayments)
	r.GET("/payments/:id", h.GetPayment)
}

// RegisterAdminRoutes sets up admin-only payment routes. The resolve
// endpoint settles stub-mode payments by hand.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:id/resolve", h.ResolvePayment)
}

// CreatePayment handles POST /v1/orders/:id/payments
func (h *Handler) CreatePayment(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	var body struct {
		Method string `json:"method"`
	}
	_ = c.ShouldBindJSON(&body) // method is optional

	orderID := c.Param("id")
	if errs := validation.Validate(
		validation.ValidID("order_id", orderID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	p, err := h.service.Create(c.Request.Context(), actor, CreateRequest{
		OrderID: orderID,
		Method:  body.Method,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Payments are visible only to the paying buyer
	if actor.ID != p.BuyerID && !actor.IsAdmin() {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "payment not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// ListOrderPayments handles GET /v1/orders/:id/payments
func (h *Handler) ListOrderPayments(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	payments, err := h.service.ListByOrder(c.Request.Context(), c.Param("id"), parseLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	if !actor.IsAdmin() {
		visible := payments[:0]
		for _, p := range payments {
			if p.BuyerID == actor.ID {
				visible = append(visible, p)
			}
		}
		payments = visible
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"count":    len(payments),
	})
}

// ProcessorWebhook handles POST /v1/webhooks/processor. Authentication
// is the processor's payload signature, not an API key.
func (h *Handler) ProcessorWebhook(c *gin.Context) {
	if h.parser == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no webhook processor configured",
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, validation.MaxRequestSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "failed to read body",
		})
		return
	}

	result, err := h.parser.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		respondError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.service.HandleResult(c.Request.Context(), result.PaymentID, result.Succeeded, result.TransactionID); err != nil {
		// Non-2xx makes the processor redeliver; HandleResult is
		// idempotent so that is safe.
		logging.L(c.Request.Context()).Error("webhook result not applied",
			"paymentId", result.PaymentID, "error", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// ResolveRequest settles a stub-mode payment.
type ResolveRequest struct {
	Succeeded     bool   `json:"succeeded"`
	TransactionID string `json:"transactionId"`
}

// ResolvePayment handles POST /v1/payments/:id/resolve (admin only).
func (h *Handler) ResolvePayment(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid request body",
		})
		return
	}

	if err := h.service.HandleResult(c.Request.Context(), c.Param("id"), req.Succeeded, req.TransactionID); err != nil {
		respondError(c, err)
		return
	}

	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{
		"error":   apperrors.Code(err),
		"message": err.Error(),
	})
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
