package studio

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/livecommerce/internal/catalog"
	"github.com/markethub/livecommerce/internal/middleware"
	"github.com/markethub/livecommerce/internal/models"
	"github.com/markethub/livecommerce/pkg/response"
)

// ProductFinder loads catalog products owned by a seller.
type ProductFinder interface {
	GetForSeller(ctx context.Context, sellerID, productID uuid.UUID) (*models.Product, error)
}

// FeatureRequest is the body for POST /studio/offer/feature.
type FeatureRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

// PriceRequest is the body for PATCH /studio/offer/price.
type PriceRequest struct {
	LivePrice *decimal.Decimal `json:"live_price" binding:"required"`
}

// TagRequest is the body for PATCH /studio/offer/tag.
type TagRequest struct {
	OfferTag string `json:"offer_tag"`
}

// ConnectRequest is the body for POST /studio/destinations/:id/connect.
type ConnectRequest struct {
	StreamKey string `json:"stream_key" binding:"required"`
}

// Handler exposes the seller's studio over HTTP. The studio ID is the caller's user ID.
type Handler struct {
	manager  *Manager
	products ProductFinder
	logger   *zap.Logger
}

// NewHandler creates a studio handler.
func NewHandler(manager *Manager, products ProductFinder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, products: products, logger: logger}
}

func (h *Handler) studio(c *gin.Context) *Studio {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return h.manager.Get(userID)
}

// Get handles GET /studio.
func (h *Handler) Get(c *gin.Context) {
	response.OK(c, h.studio(c).Snapshot())
}

// Start handles POST /studio/start.
func (h *Handler) Start(c *gin.Context) {
	s := h.studio(c)
	if err := s.Start(c.Request.Context()); err != nil {
		if errors.Is(err, ErrCaptureUnavailable) {
			response.Conflict(c, "could not access camera/microphone; connect the studio preview first")
			return
		}
		if errors.Is(err, ErrStudioClosed) {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		h.logger.Error("studio start failed", zap.Error(err))
		response.Internal(c, "failed to start studio")
		return
	}
	response.OK(c, s.Snapshot())
}

// Stop handles POST /studio/stop. Returns the saved session record, or null when not live.
func (h *Handler) Stop(c *gin.Context) {
	rec, err := h.studio(c).Stop(c.Request.Context())
	if err != nil {
		// The record is still produced; the dashboard shows it.
		h.logger.Error("studio stop incomplete", zap.Error(err))
	}
	response.OK(c, rec)
}

// ToggleDestination handles POST /studio/destinations/:id/toggle.
func (h *Handler) ToggleDestination(c *gin.Context) {
	d, err := h.studio(c).ToggleDestination(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, d)
}

// ConnectDestination handles POST /studio/destinations/:id/connect.
func (h *Handler) ConnectDestination(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := h.studio(c).ConnectDestination(c.Param("id"), req.StreamKey)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, d)
}

// FeatureProduct handles POST /studio/offer/feature.
func (h *Handler) FeatureProduct(c *gin.Context) {
	var req FeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	p, err := h.products.GetForSeller(c.Request.Context(), userID, productID)
	if errors.Is(err, catalog.ErrNotFound) || (err == nil && p == nil) {
		response.NotFound(c, "product not found")
		return
	}
	if err != nil {
		h.logger.Error("load product failed", zap.String("product_id", productID.String()), zap.Error(err))
		response.Internal(c, "failed to load product")
		return
	}
	response.OK(c, h.manager.Get(userID).FeatureProduct(*p))
}

// LaunchFlashSale handles POST /studio/offer/flash-sale.
func (h *Handler) LaunchFlashSale(c *gin.Context) {
	offer, err := h.studio(c).LaunchFlashSale()
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, offer)
}

// SetLivePrice handles PATCH /studio/offer/price.
func (h *Handler) SetLivePrice(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	offer, err := h.studio(c).SetLivePrice(*req.LivePrice)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, offer)
}

// SetOfferTag handles PATCH /studio/offer/tag.
func (h *Handler) SetOfferTag(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	offer, err := h.studio(c).SetOfferTag(req.OfferTag)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, offer)
}

// SyncLivePrice handles POST /studio/offer/sync-price.
func (h *Handler) SyncLivePrice(c *gin.Context) {
	offer, err := h.studio(c).SyncLivePrice(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, offer)
}

// Advice handles GET /studio/advice.
func (h *Handler) Advice(c *gin.Context) {
	tip, err := h.studio(c).Advice(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"advice": tip})
}

// History handles GET /studio/history.
func (h *Handler) History(c *gin.Context) {
	list, err := h.studio(c).History(c.Request.Context())
	if err != nil {
		h.logger.Error("list history failed", zap.Error(err))
		response.Internal(c, "failed to list history")
		return
	}
	response.OK(c, list)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownDestination):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotLive), errors.Is(err, ErrNoFeaturedProduct):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrCatalogUnavailable), errors.Is(err, ErrAssistantNotRunning):
		response.ServiceUnavailable(c, err.Error())
	default:
		h.logger.Error("studio request failed", zap.Error(err))
		response.Internal(c, "request failed")
	}
}
