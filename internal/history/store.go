// Package history persists finished live session records and serves
// per-studio history and analytics.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/livecommerce/internal/models"
	"github.com/markethub/livecommerce/internal/studio"
	"github.com/markethub/livecommerce/pkg/queue"
)

// Persister is the durable side of the store.
type Persister interface {
	Append(ctx context.Context, rec models.LiveSessionRecord) error
	List(ctx context.Context, studioID uuid.UUID, limit int) ([]models.LiveSessionRecord, error)
	GetByID(ctx context.Context, studioID, id uuid.UUID) (*models.LiveSessionRecord, error)
}

// ReportEnqueuer schedules report export for a record.
type ReportEnqueuer interface {
	EnqueueSessionReport(ctx context.Context, payload queue.SessionReportPayload) error
}

type aggregator interface {
	Summary(ctx context.Context, studioID uuid.UUID) (Summary, error)
}

// Store is the studio history: a bounded in-memory view backed by Postgres,
// with report export queued after each append. repo and reports may be nil.
// Records the database rejected stay pending; reads retry them and serve them
// until the database accepts them.
type Store struct {
	mem     *studio.MemoryHistory
	repo    Persister
	reports ReportEnqueuer
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID][]models.LiveSessionRecord
}

// NewStore creates a history store.
func NewStore(limit int, repo Persister, reports ReportEnqueuer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		mem:     studio.NewMemoryHistory(limit),
		repo:    repo,
		reports: reports,
		logger:  logger,
		pending: make(map[uuid.UUID][]models.LiveSessionRecord),
	}
}

// Append records a finished session. The in-memory view always gains the
// record; a database failure is returned and the record kept pending, a queue
// failure is only logged.
func (s *Store) Append(ctx context.Context, rec models.LiveSessionRecord) error {
	if err := s.mem.Append(ctx, rec); err != nil {
		return err
	}
	if s.repo == nil {
		return nil
	}
	if err := s.persist(ctx, rec); err != nil {
		s.mu.Lock()
		s.pending[rec.StudioID] = append(s.pending[rec.StudioID], rec)
		s.mu.Unlock()
		return fmt.Errorf("persist session record: %w", err)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, rec models.LiveSessionRecord) error {
	if err := s.repo.Append(ctx, rec); err != nil {
		return err
	}
	if s.reports != nil {
		payload := queue.SessionReportPayload{RecordID: rec.ID, StudioID: rec.StudioID}
		if err := s.reports.EnqueueSessionReport(ctx, payload); err != nil {
			s.logger.Warn("enqueue session report failed", zap.String("record_id", rec.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// retryPending re-persists the studio's pending records and returns the ones
// still not accepted.
func (s *Store) retryPending(ctx context.Context, studioID uuid.UUID) []models.LiveSessionRecord {
	s.mu.Lock()
	todo := s.pending[studioID]
	delete(s.pending, studioID)
	s.mu.Unlock()
	if len(todo) == 0 {
		return nil
	}

	var left []models.LiveSessionRecord
	for _, rec := range todo {
		if err := s.persist(ctx, rec); err != nil {
			left = append(left, rec)
			continue
		}
		s.logger.Info("pending session record persisted", zap.String("record_id", rec.ID.String()))
	}
	if len(left) > 0 {
		s.mu.Lock()
		s.pending[studioID] = append(left, s.pending[studioID]...)
		s.mu.Unlock()
	}
	return left
}

// List returns the studio's records, newest first.
func (s *Store) List(ctx context.Context, studioID uuid.UUID) ([]models.LiveSessionRecord, error) {
	if s.repo != nil {
		unsaved := s.retryPending(ctx, studioID)
		list, err := s.repo.List(ctx, studioID, 0)
		if err == nil {
			return mergeNewestFirst(list, unsaved), nil
		}
		s.logger.Warn("history list from database failed, serving memory", zap.String("studio_id", studioID.String()), zap.Error(err))
	}
	return s.mem.List(ctx, studioID)
}

func mergeNewestFirst(list, extra []models.LiveSessionRecord) []models.LiveSessionRecord {
	if len(extra) == 0 {
		return list
	}
	seen := make(map[uuid.UUID]bool, len(list))
	for i := range list {
		seen[list[i].ID] = true
	}
	for _, rec := range extra {
		if !seen[rec.ID] {
			list = append(list, rec)
		}
	}
	slices.SortStableFunc(list, func(a, b models.LiveSessionRecord) int {
		return b.EndedAt.Compare(a.EndedAt)
	})
	return list
}

// Get returns one record owned by the studio.
func (s *Store) Get(ctx context.Context, studioID, id uuid.UUID) (*models.LiveSessionRecord, error) {
	if s.repo != nil {
		unsaved := s.retryPending(ctx, studioID)
		rec, err := s.repo.GetByID(ctx, studioID, id)
		if !errors.Is(err, ErrNotFound) {
			return rec, err
		}
		for _, p := range unsaved {
			if p.ID == id {
				return &p, nil
			}
		}
		return nil, ErrNotFound
	}
	list, err := s.mem.List(ctx, studioID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, ErrNotFound
}

// Summary aggregates the studio's history, in the database when it can.
func (s *Store) Summary(ctx context.Context, studioID uuid.UUID) (Summary, error) {
	if agg, ok := s.repo.(aggregator); ok && len(s.retryPending(ctx, studioID)) == 0 {
		return agg.Summary(ctx, studioID)
	}
	list, err := s.List(ctx, studioID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(list), nil
}

// Summary is the analytics view over a studio's past sessions.
type Summary struct {
	Sessions           int             `json:"sessions"`
	TotalSales         decimal.Decimal `json:"total_sales"`
	AvgSalesPerSession decimal.Decimal `json:"avg_sales_per_session"`
	TotalLikes         int             `json:"total_likes"`
	PeakViewers        int             `json:"peak_viewers"`
	TotalMinutes       int             `json:"total_minutes"`
	TopPlatform        string          `json:"top_platform"`
	LastSessionAt      *time.Time      `json:"last_session_at,omitempty"`
}

// Summarize folds records into a Summary. TopPlatform is the platform most
// often best among sessions that sold anything; ties go to higher revenue,
// then to the platform that won most recently, then to the lower name.
func Summarize(records []models.LiveSessionRecord) Summary {
	s := Summary{TotalSales: decimal.Zero, AvgSalesPerSession: decimal.Zero}
	type tally struct {
		count int
		sales decimal.Decimal
		last  time.Time
	}
	wins := map[string]*tally{}
	var order []string
	for i := range records {
		r := &records[i]
		s.Sessions++
		s.TotalSales = s.TotalSales.Add(r.TotalSales)
		s.TotalLikes += r.TotalLikes
		s.TotalMinutes += r.DurationMinutes
		if r.PeakViewers > s.PeakViewers {
			s.PeakViewers = r.PeakViewers
		}
		if s.LastSessionAt == nil || r.EndedAt.After(*s.LastSessionAt) {
			ended := r.EndedAt
			s.LastSessionAt = &ended
		}
		if !r.TotalSales.IsPositive() {
			continue
		}
		t, ok := wins[r.BestPlatform]
		if !ok {
			t = &tally{sales: decimal.Zero}
			wins[r.BestPlatform] = t
			order = append(order, r.BestPlatform)
		}
		t.count++
		t.sales = t.sales.Add(r.TotalSales)
		if r.EndedAt.After(t.last) {
			t.last = r.EndedAt
		}
	}
	var best *tally
	for _, name := range order {
		if t := wins[name]; best == nil || beats(t.count, t.sales, t.last, name, best.count, best.sales, best.last, s.TopPlatform) {
			best = t
			s.TopPlatform = name
		}
	}
	if s.Sessions > 0 {
		s.AvgSalesPerSession = s.TotalSales.Div(decimal.NewFromInt(int64(s.Sessions))).Round(2)
	}
	return s
}

// beats orders platform tallies the same way the database summary does.
func beats(count int, sales decimal.Decimal, last time.Time, name string,
	bestCount int, bestSales decimal.Decimal, bestLast time.Time, bestName string) bool {
	switch {
	case count != bestCount:
		return count > bestCount
	case !sales.Equal(bestSales):
		return sales.GreaterThan(bestSales)
	case !last.Equal(bestLast):
		return last.After(bestLast)
	default:
		return name < bestName
	}
}
