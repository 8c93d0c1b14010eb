package invoice

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
)

// Handler provides HTTP endpoints for invoice operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new invoice handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up the authenticated invoice routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/invoice", h.GenerateInvoice)
	r.GET("/orders/:id/invoice", h.GetOrderInvoice)
	r.GET("/invoices", h.ListMyInvoices)
	r.GET("/invoices/:id", h.GetInvoice)
	r.POST("/invoices/:id/issue", h.IssueInvoice)
	r.POST("/invoices/:id/cancel", h.CancelInvoice)
}

// RegisterAdminRoutes sets up admin-only invoice routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/invoices/:id/mark-paid", h.MarkInvoicePaid)
}

// GenerateInvoice handles POST /v1/orders/:id/invoice
func (h *Handler) GenerateInvoice(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	force := c.Query("force") == "true"
	inv, err := h.service.Generate(c.Request.Context(), actor, c.Param("id"), force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": inv})
}

// GetOrderInvoice handles GET /v1/orders/:id/invoice
func (h *Handler) GetOrderInvoice(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	inv, err := h.service.GetByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !visible(c, actor, inv) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// GetInvoice handles GET /v1/invoices/:id
func (h *Handler) GetInvoice(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	inv, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !visible(c, actor, inv) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// ListMyInvoices handles GET /v1/invoices
func (h *Handler) ListMyInvoices(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	invoices, err := h.service.ListByUser(c.Request.Context(), actor.ID, parseLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// IssueInvoice handles POST /v1/invoices/:id/issue
func (h *Handler) IssueInvoice(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	inv, err := h.service.Issue(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// CancelInvoice handles POST /v1/invoices/:id/cancel
func (h *Handler) CancelInvoice(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	inv, err := h.service.Cancel(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// MarkInvoicePaid handles POST /v1/invoices/:id/mark-paid (admin only).
func (h *Handler) MarkInvoicePaid(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	inv, err := h.service.MarkPaid(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// visible enforces party-only visibility and writes the 404 itself.
func visible(c *gin.Context, actor auth.Actor, inv *Invoice) bool {
	if actor.ID == inv.BuyerID || actor.ID == inv.SellerID || actor.IsAdmin() {
		return true
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"message": "invoice not found",
	})
	return false
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
