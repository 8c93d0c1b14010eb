package listing

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/validation"
)

// Handler provides HTTP endpoints for listing operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.ListActive)
	r.GET("/listings/:id", h.GetListing)
	r.GET("/sellers/:sellerId/listings", h.ListBySeller)
}

// RegisterProtectedRoutes sets up protected (auth-required) listing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.POST("/listings/:id/publish", h.PublishListing)
	r.POST("/listings/:id/expire", h.ExpireListing)
}

// RegisterAdminRoutes sets up admin-only listing routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/listings/:id/suspend", h.SuspendListing)
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "title, assetType and price are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAmount("price", req.Price),
		validation.ValidCurrency("currency", req.Currency),
		validation.MaxLength("title", req.Title, 255),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	l, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// ListActive handles GET /v1/listings
func (h *Handler) ListActive(c *gin.Context) {
	listings, err := h.service.ListActive(c.Request.Context(), parseLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// ListBySeller handles GET /v1/sellers/:sellerId/listings
func (h *Handler) ListBySeller(c *gin.Context) {
	listings, err := h.service.ListBySeller(c.Request.Context(), c.Param("sellerId"), parseLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// PublishListing handles POST /v1/listings/:id/publish
func (h *Handler) PublishListing(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	l, err := h.service.Publish(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// ExpireListing handles POST /v1/listings/:id/expire
func (h *Handler) ExpireListing(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	l, err := h.service.Expire(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// SuspendListing handles POST /v1/admin/listings/:id/suspend
func (h *Handler) SuspendListing(c *gin.Context) {
	actor, _ := auth.GetActor(c)

	l, err := h.service.Suspend(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
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
