// Package worker exports finished live session records to object storage.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/livecommerce/internal/models"
	"github.com/markethub/livecommerce/pkg/queue"
	"github.com/markethub/livecommerce/pkg/storage"
)

// ReportSchemaVersion is bumped when the exported JSON shape changes.
const ReportSchemaVersion = 1

// Records loads and marks session records.
type Records interface {
	GetByID(ctx context.Context, studioID, id uuid.UUID) (*models.LiveSessionRecord, error)
	MarkExported(ctx context.Context, id uuid.UUID, key string, at time.Time) error
}

// ReportStore is where rendered reports end up.
type ReportStore interface {
	ReportExists(ctx context.Context, key string) (bool, error)
	UploadReport(ctx context.Context, key, contentType string, body []byte) error
}

// Jobs is the queue side of the exporter.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// SessionReport is the archived JSON document for one broadcast.
type SessionReport struct {
	SchemaVersion  int                      `json:"schema_version"`
	GeneratedAt    time.Time                `json:"generated_at"`
	Record         models.LiveSessionRecord `json:"record"`
	SalesPerMinute decimal.Decimal          `json:"sales_per_minute"`
}

// ReportExporter processes session report jobs: load record, render JSON, upload to S3, mark in DB.
type ReportExporter struct {
	records Records
	store   ReportStore
	jobs    Jobs
	now     func() time.Time
	backoff time.Duration
	logger  *zap.Logger
}

// NewReportExporter creates a report export processor.
func NewReportExporter(records Records, store ReportStore, jobs Jobs, logger *zap.Logger) *ReportExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportExporter{
		records: records,
		store:   store,
		jobs:    jobs,
		now:     time.Now,
		backoff: queue.RetryBackoff,
		logger:  logger,
	}
}

// RenderReport builds the archived document for rec.
func RenderReport(rec models.LiveSessionRecord, generatedAt time.Time) ([]byte, error) {
	perMinute := decimal.Zero
	if rec.DurationMinutes > 0 {
		perMinute = rec.TotalSales.Div(decimal.NewFromInt(int64(rec.DurationMinutes))).Round(2)
	}
	rec.ReportKey = ""
	rec.ExportedAt = nil
	return json.MarshalIndent(SessionReport{
		SchemaVersion:  ReportSchemaVersion,
		GeneratedAt:    generatedAt.UTC(),
		Record:         rec,
		SalesPerMinute: perMinute,
	}, "", "  ")
}

// Process executes one session report job. Already exported records are skipped.
func (p *ReportExporter) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionReport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SessionReportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.records.GetByID(ctx, payload.StudioID, payload.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", payload.RecordID, err)
	}
	if rec.ExportedAt != nil && rec.ReportKey != "" {
		p.logger.Info("session report already exported", zap.String("record_id", rec.ID.String()))
		return nil
	}

	key := storage.ReportKey(rec.StudioID.String(), rec.ID.String(), rec.StartedAt)
	exists, err := p.store.ReportExists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		body, err := RenderReport(*rec, p.now())
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		if err := p.store.UploadReport(ctx, key, "application/json", body); err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
	}

	if err := p.records.MarkExported(ctx, rec.ID, key, p.now()); err != nil {
		p.logger.Error("mark report exported failed", zap.Error(err), zap.String("record_id", rec.ID.String()))
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("session report exported", zap.String("record_id", rec.ID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *ReportExporter) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("report worker stopping")
			return
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
			}
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ReportExporter) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
