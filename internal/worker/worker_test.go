package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/livecommerce/internal/models"
	"github.com/markethub/livecommerce/pkg/queue"
)

type fakeRecords struct {
	rec      *models.LiveSessionRecord
	markKey  string
	markErr  error
	markCall int
}

func (f *fakeRecords) GetByID(_ context.Context, studioID, id uuid.UUID) (*models.LiveSessionRecord, error) {
	if f.rec == nil || f.rec.ID != id || f.rec.StudioID != studioID {
		return nil, errors.New("not found")
	}
	rec := *f.rec
	return &rec, nil
}

func (f *fakeRecords) MarkExported(_ context.Context, _ uuid.UUID, key string, at time.Time) error {
	f.markCall++
	if f.markErr != nil {
		return f.markErr
	}
	f.markKey = key
	f.rec.ReportKey = key
	f.rec.ExportedAt = &at
	return nil
}

type fakeReports struct {
	objects map[string][]byte
	uploads int
}

func (f *fakeReports) ReportExists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeReports) UploadReport(_ context.Context, key, contentType string, body []byte) error {
	if contentType != "application/json" {
		return errors.New("unexpected content type")
	}
	f.uploads++
	f.objects[key] = body
	return nil
}

func sampleRecord() *models.LiveSessionRecord {
	return &models.LiveSessionRecord{
		ID:              uuid.New(),
		StudioID:        uuid.New(),
		Date:            "2025-03-14",
		StartTime:       "19:05",
		StartedAt:       time.Date(2025, 3, 14, 19, 5, 0, 0, time.UTC),
		EndedAt:         time.Date(2025, 3, 14, 19, 45, 0, 0, time.UTC),
		DurationMinutes: 40,
		TotalSales:      decimal.RequireFromString("399.80"),
		PeakViewers:     320,
		TotalLikes:      95,
		BestPlatform:    "TikTok Shop",
		BestPlatformID:  "tk",
	}
}

func jobFor(t *testing.T, rec *models.LiveSessionRecord) *queue.Job {
	job, err := queue.NewJob(queue.JobTypeSessionReport, queue.SessionReportPayload{RecordID: rec.ID, StudioID: rec.StudioID})
	require.NoError(t, err)
	return job
}

func TestProcessExportsOnce(t *testing.T) {
	rec := sampleRecord()
	records := &fakeRecords{rec: rec}
	reports := &fakeReports{objects: map[string][]byte{}}
	p := NewReportExporter(records, reports, nil, nil)
	p.now = func() time.Time { return time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC) }

	require.NoError(t, p.Process(context.Background(), jobFor(t, rec)))
	wantKey := "session-reports/" + rec.StudioID.String() + "/2025/03/" + rec.ID.String() + ".json"
	assert.Equal(t, wantKey, records.markKey)
	require.Contains(t, reports.objects, wantKey)

	var doc SessionReport
	require.NoError(t, json.Unmarshal(reports.objects[wantKey], &doc))
	assert.Equal(t, ReportSchemaVersion, doc.SchemaVersion)
	assert.Equal(t, "TikTok Shop", doc.Record.BestPlatform)
	assert.Equal(t, "10", doc.SalesPerMinute.String())

	require.NoError(t, p.Process(context.Background(), jobFor(t, rec)))
	assert.Equal(t, 1, reports.uploads)
	assert.Equal(t, 1, records.markCall)
}

func TestProcessSkipsUploadWhenObjectExists(t *testing.T) {
	rec := sampleRecord()
	records := &fakeRecords{rec: rec}
	reports := &fakeReports{objects: map[string][]byte{}}
	p := NewReportExporter(records, reports, nil, nil)

	key := "session-reports/" + rec.StudioID.String() + "/2025/03/" + rec.ID.String() + ".json"
	reports.objects[key] = []byte("{}")

	require.NoError(t, p.Process(context.Background(), jobFor(t, rec)))
	assert.Zero(t, reports.uploads)
	assert.Equal(t, key, records.markKey)
}

func TestProcessErrors(t *testing.T) {
	rec := sampleRecord()
	p := NewReportExporter(&fakeRecords{rec: rec, markErr: errors.New("db down")}, &fakeReports{objects: map[string][]byte{}}, nil, nil)
	assert.Error(t, p.Process(context.Background(), jobFor(t, rec)))

	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: "unknown"}))
	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: queue.JobTypeSessionReport, Payload: []byte("nope")}))

	other := sampleRecord()
	assert.Error(t, p.Process(context.Background(), jobFor(t, other)))
}

func TestRenderReportZeroDuration(t *testing.T) {
	rec := sampleRecord()
	rec.DurationMinutes = 0
	at := time.Now()
	rec.ReportKey = "old"
	rec.ExportedAt = &at
	body, err := RenderReport(*rec, at)
	require.NoError(t, err)

	var doc SessionReport
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.True(t, doc.SalesPerMinute.IsZero())
	assert.Empty(t, doc.Record.ReportKey)
	assert.Nil(t, doc.Record.ExportedAt)
}

type scriptedJobs struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
	cancel  context.CancelFunc
}

func (s *scriptedJobs) Dequeue(_ context.Context) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		s.cancel()
		return nil, nil
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, nil
}

func (s *scriptedJobs) Retry(_ context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Attempt++
	s.retried = append(s.retried, job)
	return nil
}

func TestRunRetriesFailedJobs(t *testing.T) {
	rec := sampleRecord()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := &scriptedJobs{
		jobs:   []*queue.Job{jobFor(t, rec), {ID: "bad", Type: "unknown"}},
		cancel: cancel,
	}
	reports := &fakeReports{objects: map[string][]byte{}}
	p := NewReportExporter(&fakeRecords{rec: rec}, reports, jobs, nil)
	p.backoff = time.Millisecond

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 1, reports.uploads)
	require.Len(t, jobs.retried, 1)
	assert.Equal(t, "bad", jobs.retried[0].ID)
}
