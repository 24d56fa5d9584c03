package catalog

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/livecommerce/internal/middleware"
	"github.com/markethub/livecommerce/internal/models"
	"github.com/markethub/livecommerce/pkg/response"
)

// CreateRequest is the body for POST /products.
type CreateRequest struct {
	SKU         string           `json:"sku" binding:"required"`
	Name        string           `json:"name" binding:"required"`
	Price       *decimal.Decimal `json:"price" binding:"required"`
	Stock       int              `json:"stock" binding:"min=0"`
	ImageURL    string           `json:"image_url"`
	Description string           `json:"description"`
}

// PriceRequest is the body for PATCH /products/:id/price.
type PriceRequest struct {
	Price *decimal.Decimal `json:"price" binding:"required"`
}

// Handler handles product HTTP endpoints. Products are always scoped to the caller.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a catalog handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /products.
func (h *Handler) List(c *gin.Context) {
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListBySeller(c.Request.Context(), sellerID)
	if err != nil {
		h.logger.Error("list products failed", zap.Error(err))
		response.Internal(c, "failed to list products")
		return
	}
	response.OK(c, list)
}

// Create handles POST /products.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Price.IsNegative() {
		response.BadRequest(c, "price must not be negative")
		return
	}
	p := &models.Product{
		SellerID:    c.MustGet(middleware.ContextUserID).(uuid.UUID),
		SKU:         strings.TrimSpace(req.SKU),
		Name:        strings.TrimSpace(req.Name),
		Price:       *req.Price,
		Stock:       req.Stock,
		ImageURL:    req.ImageURL,
		Description: req.Description,
	}
	if err := h.repo.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create product failed", zap.Error(err))
		response.Internal(c, "failed to create product")
		return
	}
	response.Created(c, p)
}

// Get handles GET /products/:id.
func (h *Handler) Get(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	p, err := h.repo.GetForSeller(c.Request.Context(), sellerID, productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, p)
}

// UpdatePrice handles PATCH /products/:id/price.
func (h *Handler) UpdatePrice(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if _, err := h.repo.GetForSeller(c.Request.Context(), sellerID, productID); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.repo.UpdatePrice(c.Request.Context(), productID, *req.Price); err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"id": productID, "price": *req.Price})
}

// Delete handles DELETE /products/:id.
func (h *Handler) Delete(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.repo.Delete(c.Request.Context(), sellerID, productID); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "product not found")
		return
	}
	h.logger.Error("catalog request failed", zap.Error(err))
	response.Internal(c, "request failed")
}
