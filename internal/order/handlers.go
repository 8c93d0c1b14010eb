package order

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/validation"
)

// Handler provides HTTP endpoints for order operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up order routes. All order operations
// require an authenticated actor.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateDirectOrder)
	r.GET("/orders", h.ListMyOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/cancel", h.CancelOrder)
	r.POST("/orders/:id/complete", h.CompleteOrder)
	r.POST("/orders/:id/refund-request", h.RequestRefund)
}

// CreateDirectRequest is the body for a direct purchase at listing price.
type CreateDirectRequest struct {
	ListingID string `json:"listingId" binding:"required"`
}

// CancelRequest carries the optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CreateDirectOrder handles POST /v1/orders
func (h *Handler) CreateDirectOrder(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "listingId is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("listing_id", req.ListingID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	o, err := h.service.CreateDirect(c.Request.Context(), actor, req.ListingID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": o})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Orders are visible only to their parties
	if actor.ID != o.BuyerID && actor.ID != o.SellerID && !actor.IsAdmin() {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "order not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ListMyOrders handles GET /v1/orders
func (h *Handler) ListMyOrders(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	orders, err := h.service.ListByUser(c.Request.Context(), actor.ID, parseLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// CancelOrder handles POST /v1/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	var req CancelRequest
	_ = c.ShouldBindJSON(&req) // reason is optional

	o, err := h.service.Cancel(c.Request.Context(), actor, c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// CompleteOrder handles POST /v1/orders/:id/complete
func (h *Handler) CompleteOrder(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	o, err := h.service.Complete(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// RequestRefund handles POST /v1/orders/:id/refund-request
func (h *Handler) RequestRefund(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	o, err := h.service.RequestRefund(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
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
