package escrow

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up the authenticated escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/orders/:id/escrow", h.GetOrderEscrow)
	r.POST("/escrows/:id/release", h.ReleaseEscrow)
}

// RegisterAdminRoutes sets up admin-only escrow routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrows/:id/refund", h.RefundEscrow)
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.visible(c, actor, e) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// GetOrderEscrow handles GET /v1/orders/:id/escrow
func (h *Handler) GetOrderEscrow(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	e, err := h.service.GetByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.visible(c, actor, e) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ReleaseEscrow handles POST /v1/escrows/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	e, err := h.service.Release(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// RefundEscrow handles POST /v1/escrows/:id/refund (admin only).
func (h *Handler) RefundEscrow(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	e, err := h.service.Refund(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// visible enforces party-only visibility and writes the 404 itself.
func (h *Handler) visible(c *gin.Context, actor auth.Actor, e *Escrow) bool {
	if actor.IsAdmin() {
		return true
	}
	o, err := h.service.orders.GetOrder(c.Request.Context(), e.OrderID)
	if err != nil || (actor.ID != o.BuyerID && actor.ID != o.SellerID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "escrow not found",
		})
		return false
	}
	return true
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{
		"error":   apperrors.Code(err),
		"message": err.Error(),
	})
}
