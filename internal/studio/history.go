package studio

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/markethub/livecommerce/internal/models"
)

// DefaultHistoryLimit bounds the in-memory history per studio.
const DefaultHistoryLimit = 100

// HistoryStore receives finished session records.
type HistoryStore interface {
	Append(ctx context.Context, rec models.LiveSessionRecord) error
	List(ctx context.Context, studioID uuid.UUID) ([]models.LiveSessionRecord, error)
}

// MemoryHistory is an append-only, newest-first record list per studio,
// capped at limit entries (oldest dropped first).
type MemoryHistory struct {
	mu      sync.RWMutex
	limit   int
	records map[uuid.UUID][]models.LiveSessionRecord
}

// NewMemoryHistory creates an in-memory history store.
func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryHistory{limit: limit, records: make(map[uuid.UUID][]models.LiveSessionRecord)}
}

// Append prepends rec to its studio's history.
func (h *MemoryHistory) Append(_ context.Context, rec models.LiveSessionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.records[rec.StudioID]
	n := min(len(list)+1, h.limit)
	next := make([]models.LiveSessionRecord, 0, n)
	next = append(next, rec)
	next = append(next, list[:n-1]...)
	h.records[rec.StudioID] = next
	return nil
}

// List returns a copy of the studio's history, newest first.
func (h *MemoryHistory) List(_ context.Context, studioID uuid.UUID) ([]models.LiveSessionRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.records[studioID]
	out := make([]models.LiveSessionRecord, len(list))
	copy(out, list)
	return out, nil
}
