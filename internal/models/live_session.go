package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LiveSessionRecord is the immutable summary written once when a broadcast stops.
type LiveSessionRecord struct {
	ID              uuid.UUID       `json:"id"`
	StudioID        uuid.UUID       `json:"studio_id"`
	Date            string          `json:"date"`       // YYYY-MM-DD
	StartTime       string          `json:"start_time"` // HH:MM
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
	DurationMinutes int             `json:"duration_minutes"`
	TotalSales      decimal.Decimal `json:"total_sales"`
	PeakViewers     int             `json:"peak_viewers"`
	TotalLikes      int             `json:"total_likes"`
	BestPlatform    string          `json:"best_platform"`
	BestPlatformID  string          `json:"best_platform_id"`
	ReportKey       string          `json:"report_key,omitempty"`
	ExportedAt      *time.Time      `json:"exported_at,omitempty"`
}
