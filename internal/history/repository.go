package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/markethub/livecommerce/internal/models"
)

// ErrNotFound is returned when a record does not exist for the studio.
var ErrNotFound = errors.New("session record not found")

const recordColumns = `id, studio_id, session_date, start_time, started_at, ended_at, duration_minutes,
	total_sales, peak_viewers, total_likes, best_platform, best_platform_id, report_key, exported_at`

// Repository handles live_session_records persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session record repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecord(row pgx.Row, r *models.LiveSessionRecord) error {
	var reportKey *string
	if err := row.Scan(&r.ID, &r.StudioID, &r.Date, &r.StartTime, &r.StartedAt, &r.EndedAt, &r.DurationMinutes,
		&r.TotalSales, &r.PeakViewers, &r.TotalLikes, &r.BestPlatform, &r.BestPlatformID, &reportKey, &r.ExportedAt); err != nil {
		return err
	}
	if reportKey != nil {
		r.ReportKey = *reportKey
	}
	return nil
}

// Append inserts a finished session record. Re-inserting the same ID is a no-op.
func (r *Repository) Append(ctx context.Context, rec models.LiveSessionRecord) error {
	const q = `INSERT INTO live_session_records (id, studio_id, session_date, start_time, started_at, ended_at,
		duration_minutes, total_sales, peak_viewers, total_likes, best_platform, best_platform_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, rec.ID, rec.StudioID, rec.Date, rec.StartTime, rec.StartedAt, rec.EndedAt,
		rec.DurationMinutes, rec.TotalSales, rec.PeakViewers, rec.TotalLikes, rec.BestPlatform, rec.BestPlatformID)
	return err
}

// List returns a studio's records, newest first. limit <= 0 returns all.
func (r *Repository) List(ctx context.Context, studioID uuid.UUID, limit int) ([]models.LiveSessionRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM live_session_records WHERE studio_id = $1 ORDER BY ended_at DESC`
	args := []interface{}{studioID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.LiveSessionRecord{}
	for rows.Next() {
		var rec models.LiveSessionRecord
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// GetByID returns one record. studioID may be uuid.Nil to skip the ownership check (worker use).
func (r *Repository) GetByID(ctx context.Context, studioID, id uuid.UUID) (*models.LiveSessionRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM live_session_records WHERE id = $1 AND ($2 = '00000000-0000-0000-0000-000000000000'::uuid OR studio_id = $2)`
	var rec models.LiveSessionRecord
	if err := scanRecord(r.pool.QueryRow(ctx, q, id, studioID), &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// MarkExported records where the session report was archived.
func (r *Repository) MarkExported(ctx context.Context, id uuid.UUID, key string, at time.Time) error {
	const q = `UPDATE live_session_records SET report_key = $1, exported_at = $2 WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, key, at, id)
	return err
}

// Summary aggregates a studio's full history in the database.
func (r *Repository) Summary(ctx context.Context, studioID uuid.UUID) (Summary, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(total_sales), 0), COALESCE(SUM(total_likes), 0),
		COALESCE(MAX(peak_viewers), 0), COALESCE(SUM(duration_minutes), 0), MAX(ended_at)
		FROM live_session_records WHERE studio_id = $1`
	var (
		s       Summary
		minutes int64
	)
	if err := r.pool.QueryRow(ctx, q, studioID).Scan(&s.Sessions, &s.TotalSales, &s.TotalLikes, &s.PeakViewers, &minutes, &s.LastSessionAt); err != nil {
		return Summary{}, err
	}
	s.TotalMinutes = int(minutes)
	s.AvgSalesPerSession = decimal.Zero
	if s.Sessions > 0 {
		s.AvgSalesPerSession = s.TotalSales.Div(decimal.NewFromInt(int64(s.Sessions))).Round(2)
	}

	const bestQ = `SELECT best_platform FROM live_session_records WHERE studio_id = $1 AND total_sales > 0
		GROUP BY best_platform ORDER BY COUNT(*) DESC, SUM(total_sales) DESC, MAX(ended_at) DESC, best_platform COLLATE "C" LIMIT 1`
	if err := r.pool.QueryRow(ctx, bestQ, studioID).Scan(&s.TopPlatform); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, err
	}
	return s, nil
}
