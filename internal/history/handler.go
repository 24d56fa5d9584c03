package history

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markethub/livecommerce/internal/middleware"
	"github.com/markethub/livecommerce/pkg/response"
)

// Presigner hands out download URLs for archived reports.
type Presigner interface {
	PresignReportURL(ctx context.Context, key string) (string, error)
	PresignExpire() time.Duration
}

// ReportURLResponse is the JSON shape for GET /studio/history/:id/report.
type ReportURLResponse struct {
	URL        string    `json:"url"`
	ExpiresIn  int       `json:"expires_in"`
	ExportedAt time.Time `json:"exported_at"`
}

// Handler serves history analytics and report downloads.
type Handler struct {
	store   *Store
	presign Presigner
	logger  *zap.Logger
}

// NewHandler creates a history handler. presign may be nil when S3 is not configured.
func NewHandler(store *Store, presign Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, presign: presign, logger: logger}
}

// Summary handles GET /studio/history/summary.
func (h *Handler) Summary(c *gin.Context) {
	studioID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	sum, err := h.store.Summary(c.Request.Context(), studioID)
	if err != nil {
		h.logger.Error("history summary failed", zap.String("studio_id", studioID.String()), zap.Error(err))
		response.Internal(c, "failed to load history summary")
		return
	}
	response.OK(c, sum)
}

// Get handles GET /studio/history/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}
	studioID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	rec, err := h.store.Get(c.Request.Context(), studioID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, rec)
}

// ReportURL handles GET /studio/history/:id/report.
func (h *Handler) ReportURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}
	if h.presign == nil {
		response.ServiceUnavailable(c, "report storage not configured")
		return
	}
	studioID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	rec, err := h.store.Get(c.Request.Context(), studioID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if rec.ReportKey == "" || rec.ExportedAt == nil {
		response.Conflict(c, "report not exported yet")
		return
	}
	url, err := h.presign.PresignReportURL(c.Request.Context(), rec.ReportKey)
	if err != nil {
		h.logger.Error("presign report failed", zap.String("record_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to sign report url")
		return
	}
	response.OK(c, ReportURLResponse{
		URL:        url,
		ExpiresIn:  int(h.presign.PresignExpire().Seconds()),
		ExportedAt: *rec.ExportedAt,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "session record not found")
		return
	}
	h.logger.Error("history request failed", zap.Error(err))
	response.Internal(c, "request failed")
}
