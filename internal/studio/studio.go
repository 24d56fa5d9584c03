// Package studio implements the live-commerce broadcast engine: destination
// fan-out, simulated per-destination metrics, the featured-offer overlay and the
// session lifecycle that produces one history record per broadcast.
package studio

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/livecommerce/internal/metrics"
	"github.com/markethub/livecommerce/internal/models"
)

var (
	ErrNotLive             = errors.New("studio is not live")
	ErrNoFeaturedProduct   = errors.New("no product featured")
	ErrUnknownDestination  = errors.New("unknown destination")
	ErrCaptureUnavailable  = errors.New("camera or microphone unavailable")
	ErrCatalogUnavailable  = errors.New("catalog not configured")
	ErrAssistantNotRunning = errors.New("assistant not running")
	ErrStudioClosed        = errors.New("studio is shutting down")
)

const (
	scriptTimeout        = 30 * time.Second
	assistantDialTimeout = 15 * time.Second
	persistTimeout       = 10 * time.Second

	// AssistantOutputSampleRate is the PCM rate of audio returned by the assistant.
	AssistantOutputSampleRate = 24000
)

// Events published to the studio's realtime room.
const (
	EventNotification   = "notification"
	EventStatsTick      = "stats_tick"
	EventOfferUpdated   = "offer_updated"
	EventScriptReady    = "script_ready"
	EventSessionStarted = "session_started"
	EventSessionStopped = "session_stopped"
	EventAssistantAudio = "assistant_audio"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateLive     State = "live"
	StateStopping State = "stopping"
)

// Broadcaster delivers studio events to connected dashboards.
type Broadcaster interface {
	BroadcastToStudioAndPublish(studioID uuid.UUID, event string, payload interface{})
}

// MediaSource owns the operator's camera and microphone stream.
type MediaSource interface {
	// WaitForPublisher blocks until the studio's audio and video are available.
	WaitForPublisher(ctx context.Context, studioID uuid.UUID) error
	ClosePublisher(studioID uuid.UUID)
}

// ScriptGenerator produces a promotional script for a product description.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, prompt string) (*models.LiveScript, error)
}

// Advisor produces short strategic advice from per-destination stats.
type Advisor interface {
	Advise(ctx context.Context, dests []models.StreamDestination) (string, error)
}

// PriceUpdater persists a live price back to the catalog.
type PriceUpdater interface {
	UpdatePrice(ctx context.Context, productID uuid.UUID, price decimal.Decimal) error
}

// AssistantCallbacks receive events from an open assistant bridge.
type AssistantCallbacks struct {
	OnOpen  func()
	OnAudio func(pcm []byte)
	OnError func(err error)
	OnClose func()
}

// AssistantSession is an open bidirectional assistant bridge.
type AssistantSession interface {
	SendAudio(pcm []byte) error
	SendVideo(jpeg []byte) error
	Close() error
}

// AssistantDialer opens assistant bridges.
type AssistantDialer interface {
	Dial(ctx context.Context, cb AssistantCallbacks) (AssistantSession, error)
}

// Deps are the collaborators a studio talks to. Media and History are required.
type Deps struct {
	Media      MediaSource
	History    HistoryStore
	Events     Broadcaster
	Scripts    ScriptGenerator
	Assistant  AssistantDialer
	Advisor    Advisor
	Catalog    PriceUpdater
	SalePolicy SalePolicy
	Now        func() time.Time
	NewRand    func() *rand.Rand
	Logger     *zap.Logger
}

// Options tune studio behavior.
type Options struct {
	TickInterval      time.Duration
	CaptureTimeout    time.Duration
	ResetStatsOnStart bool
	StoreBaseURL      string
	OfferTag          string
	Destinations      []models.StreamDestination
}

func (d *Deps) setDefaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewRand == nil {
		d.NewRand = func() *rand.Rand { return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) }
	}
	if d.SalePolicy == nil {
		d.SalePolicy = DefaultSalePolicy
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

func (o *Options) setDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = 20 * time.Second
	}
	if len(o.Destinations) == 0 {
		o.Destinations = DefaultDestinations()
	}
}

// Studio is one seller's broadcast engine. All mutable state is guarded by mu;
// network calls (capture, scripts, assistant) happen outside it.
type Studio struct {
	id   uuid.UUID
	deps Deps
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	state       State
	closed      bool
	cancelStart context.CancelFunc
	epoch     uint64
	startedAt time.Time
	dests     *DestinationRegistry
	overlay   *Overlay
	ticker    *Ticker
	assistant AssistantSession
	rng       *rand.Rand

	bg sync.WaitGroup
}

// New creates an idle studio.
func New(id uuid.UUID, deps Deps, opts Options) *Studio {
	deps.setDefaults()
	opts.setDefaults()
	return &Studio{
		id:      id,
		deps:    deps,
		opts:    opts,
		log:     deps.Logger.With(zap.String("studio_id", id.String())),
		state:   StateIdle,
		dests:   NewDestinationRegistry(opts.Destinations),
		overlay: NewOverlay(opts.OfferTag),
		rng:     deps.NewRand(),
	}
}

// ID returns the studio ID (the owning seller's user ID).
func (s *Studio) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *Studio) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the operator's capture and goes live. It is a no-op unless idle.
// On capture failure the studio returns to idle and ErrCaptureUnavailable is returned.
// A studio closed while waiting for capture never goes live.
func (s *Studio) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStudioClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	acquireCtx, cancel := context.WithTimeout(ctx, s.opts.CaptureTimeout)
	s.cancelStart = cancel
	s.mu.Unlock()

	err := s.deps.Media.WaitForPublisher(acquireCtx, s.id)
	cancel()

	s.mu.Lock()
	s.cancelStart = nil
	if s.closed {
		s.state = StateIdle
		s.mu.Unlock()
		s.deps.Media.ClosePublisher(s.id)
		s.log.Info("start abandoned, studio closed")
		return ErrStudioClosed
	}
	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()
		s.deps.Media.ClosePublisher(s.id)
		metrics.CaptureFailures.Inc()
		s.log.Warn("capture acquisition failed", zap.Error(err))
		s.notify("Could not access camera/microphone.", models.SeverityError)
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	if s.opts.ResetStatsOnStart {
		s.dests.ResetStats()
	}
	s.startedAt = s.deps.Now()
	s.state = StateLive
	s.epoch++
	epoch := s.epoch
	s.ticker = NewTicker(s.opts.TickInterval, s.tick)
	s.ticker.Start()
	startedAt := s.startedAt
	// Registered under mu so a concurrent Close waits for it.
	if s.deps.Assistant != nil {
		s.bg.Add(1)
	}
	s.mu.Unlock()

	metrics.SessionsStarted.Inc()
	metrics.SessionsActive.Inc()
	s.log.Info("studio live", zap.Time("started_at", startedAt))

	if s.deps.Assistant != nil {
		go func() {
			defer s.bg.Done()
			s.openAssistant(epoch)
		}()
	}

	s.notify("Multistream studio is live!", models.SeveritySuccess)
	s.publish(EventSessionStarted, map[string]interface{}{"started_at": startedAt})
	return nil
}

// Stop ends a live session and returns the record written to history. Every
// teardown step runs even if an earlier one fails; failures are joined into the
// returned error alongside a non-nil record. Stop is a no-op unless live.
// The record is persisted even when ctx is already canceled.
func (s *Studio) Stop(ctx context.Context) (*models.LiveSessionRecord, error) {
	s.mu.Lock()
	if s.state != StateLive {
		s.mu.Unlock()
		return nil, nil
	}
	s.state = StateStopping
	ticker, assistant := s.ticker, s.assistant
	s.ticker, s.assistant = nil, nil
	s.mu.Unlock()

	// The tick loop must be gone before the capture device is released.
	if ticker != nil {
		ticker.Stop()
	}
	s.deps.Media.ClosePublisher(s.id)

	s.mu.Lock()
	rec := s.buildRecord(s.deps.Now())
	s.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	var errs []error
	if err := s.deps.History.Append(persistCtx, rec); err != nil {
		s.log.Error("append session record failed", zap.Error(err), zap.String("record_id", rec.ID.String()))
		errs = append(errs, fmt.Errorf("append history: %w", err))
	}
	if assistant != nil {
		metrics.AssistantSessions.Dec()
		if err := assistant.Close(); err != nil {
			s.log.Warn("close assistant failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close assistant: %w", err))
		}
	}

	s.mu.Lock()
	s.overlay.Hide()
	s.state = StateIdle
	s.startedAt = time.Time{}
	s.mu.Unlock()

	metrics.SessionsActive.Dec()
	s.log.Info("studio stopped",
		zap.String("record_id", rec.ID.String()),
		zap.String("total_sales", rec.TotalSales.StringFixed(2)),
		zap.Int("duration_minutes", rec.DurationMinutes),
	)
	s.notify("Broadcast ended and saved.", models.SeverityInfo)
	s.publish(EventSessionStopped, rec)
	return &rec, errors.Join(errs...)
}

// Close stops a live session, abandons a pending Start and waits for background
// work to finish. A closed studio cannot start again.
func (s *Studio) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.cancelStart != nil {
		s.cancelStart()
	}
	s.mu.Unlock()
	_, err := s.Stop(ctx)
	s.bg.Wait()
	return err
}

func (s *Studio) buildRecord(now time.Time) models.LiveSessionRecord {
	agg := s.dests.Aggregate()
	elapsed := now.Sub(s.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return models.LiveSessionRecord{
		ID:              uuid.New(),
		StudioID:        s.id,
		Date:            s.startedAt.Format("2006-01-02"),
		StartTime:       s.startedAt.Format("15:04"),
		StartedAt:       s.startedAt,
		EndedAt:         now,
		DurationMinutes: int(elapsed / time.Minute),
		TotalSales:      agg.TotalSales,
		PeakViewers:     agg.PeakViewers,
		TotalLikes:      agg.TotalLikes,
		BestPlatform:    agg.BestName,
		BestPlatformID:  agg.BestID,
	}
}

// tick advances the simulation once. All destinations see the same offer snapshot.
func (s *Studio) tick() {
	s.mu.Lock()
	if s.state != StateLive {
		s.mu.Unlock()
		return
	}
	next, sales := Tick(s.dests.List(), s.overlay.Snapshot(), s.rng, s.deps.SalePolicy)
	s.dests.Replace(next)
	payload := statsPayload{Destinations: s.dests.List(), Totals: s.dests.Aggregate()}
	s.mu.Unlock()

	metrics.SimulatorTicks.Inc()
	for _, sale := range sales {
		metrics.SimulatedSales.WithLabelValues(sale.DestinationID).Inc()
		metrics.SimulatedRevenue.WithLabelValues(sale.DestinationID).Add(sale.Amount.InexactFloat64())
		s.notify(fmt.Sprintf("Sale via %s: R$ %s", sale.DestinationName, sale.Amount.StringFixed(2)), models.SeveritySuccess)
	}
	s.publish(EventStatsTick, payload)
}

type statsPayload struct {
	Destinations []models.StreamDestination `json:"destinations"`
	Totals       Aggregates                 `json:"totals"`
}

// ToggleDestination flips a destination in or out of the broadcast. Only allowed while live.
func (s *Studio) ToggleDestination(id string) (models.StreamDestination, error) {
	s.mu.Lock()
	if s.state != StateLive {
		s.mu.Unlock()
		return models.StreamDestination{}, ErrNotLive
	}
	d, err := s.dests.ToggleLive(id)
	s.mu.Unlock()
	if err != nil {
		return d, err
	}
	if d.IsLive {
		s.notify(fmt.Sprintf("Broadcasting to %s started!", d.Name), models.SeveritySuccess)
	} else {
		s.notify(fmt.Sprintf("Broadcast to %s ended.", d.Name), models.SeverityInfo)
	}
	s.log.Info("destination toggled", zap.String("destination_id", d.ID), zap.Bool("is_live", d.IsLive))
	return d, nil
}

// ConnectDestination stores the upstream stream key for a destination.
func (s *Studio) ConnectDestination(id, streamKey string) (models.StreamDestination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dests.Connect(id, streamKey)
}

// FeatureProduct replaces the featured offer with p and requests a new script.
func (s *Studio) FeatureProduct(p models.Product) *models.FeaturedOffer {
	s.mu.Lock()
	gen := s.overlay.Feature(p)
	prompt := s.overlay.ScriptPrompt()
	offer := s.overlay.Offer()
	s.mu.Unlock()

	s.publish(EventOfferUpdated, offer)
	s.requestScript(gen, prompt)
	return offer
}

// LaunchFlashSale switches the featured offer into flash-sale mode at the current live price.
func (s *Studio) LaunchFlashSale() (*models.FeaturedOffer, error) {
	s.mu.Lock()
	gen, err := s.overlay.LaunchFlashSale()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	prompt := s.overlay.ScriptPrompt()
	offer := s.overlay.Offer()
	s.mu.Unlock()

	s.notify(fmt.Sprintf("Flash sale launched: R$ %s!", offer.LivePrice.StringFixed(2)), models.SeveritySuccess)
	s.publish(EventOfferUpdated, offer)
	s.requestScript(gen, prompt)
	return offer, nil
}

// SetLivePrice overrides the featured offer's live price.
func (s *Studio) SetLivePrice(price decimal.Decimal) (*models.FeaturedOffer, error) {
	s.mu.Lock()
	if err := s.overlay.SetLivePrice(price); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	offer := s.overlay.Offer()
	s.mu.Unlock()
	s.publish(EventOfferUpdated, offer)
	return offer, nil
}

// SetOfferTag changes the flash-sale label.
func (s *Studio) SetOfferTag(tag string) (*models.FeaturedOffer, error) {
	s.mu.Lock()
	if err := s.overlay.SetOfferTag(tag); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	offer := s.overlay.Offer()
	s.mu.Unlock()
	s.publish(EventOfferUpdated, offer)
	return offer, nil
}

// SyncLivePrice writes the current live price back to the catalog.
func (s *Studio) SyncLivePrice(ctx context.Context) (*models.FeaturedOffer, error) {
	s.mu.Lock()
	offer := s.overlay.Offer()
	s.mu.Unlock()
	if offer == nil {
		return nil, ErrNoFeaturedProduct
	}
	if s.deps.Catalog == nil {
		return nil, ErrCatalogUnavailable
	}
	if err := s.deps.Catalog.UpdatePrice(ctx, offer.Product.ID, offer.LivePrice); err != nil {
		return nil, fmt.Errorf("update catalog price: %w", err)
	}
	s.notify(fmt.Sprintf("%s price updated to R$ %s.", offer.Product.Name, offer.LivePrice.StringFixed(2)), models.SeveritySuccess)
	return offer, nil
}

func (s *Studio) requestScript(gen uint64, prompt string) {
	if s.deps.Scripts == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), scriptTimeout)
		defer cancel()
		script, err := s.deps.Scripts.GenerateScript(ctx, prompt)
		if err != nil || script == nil {
			metrics.ScriptFailures.Inc()
			s.log.Warn("script generation failed", zap.Error(err))
			s.notify("AI script unavailable right now.", models.SeverityInfo)
			return
		}
		s.mu.Lock()
		applied := s.overlay.ApplyScript(gen, script)
		offer := s.overlay.Offer()
		s.mu.Unlock()
		if applied {
			s.publish(EventScriptReady, offer)
		}
	}()
}

func (s *Studio) openAssistant(epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), assistantDialTimeout)
	defer cancel()
	sess, err := s.deps.Assistant.Dial(ctx, AssistantCallbacks{
		OnOpen: func() { s.log.Debug("assistant open") },
		OnAudio: func(pcm []byte) {
			s.publish(EventAssistantAudio, map[string]interface{}{
				"data":        pcm,
				"sample_rate": AssistantOutputSampleRate,
			})
		},
		OnError: func(err error) { s.log.Warn("assistant error", zap.Error(err)) },
		OnClose: func() { s.log.Debug("assistant closed") },
	})
	if err != nil {
		s.log.Warn("assistant unavailable", zap.Error(err))
		s.notify("AI assistant unavailable; continuing without it.", models.SeverityInfo)
		return
	}

	s.mu.Lock()
	if s.state != StateLive || s.epoch != epoch {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	s.assistant = sess
	s.mu.Unlock()
	metrics.AssistantSessions.Inc()
}

// PushAudio forwards a 16kHz PCM chunk from the operator to the assistant.
func (s *Studio) PushAudio(pcm []byte) error {
	sess := s.currentAssistant()
	if sess == nil {
		return ErrAssistantNotRunning
	}
	return sess.SendAudio(pcm)
}

// PushVideo forwards a JPEG frame from the operator to the assistant.
func (s *Studio) PushVideo(jpeg []byte) error {
	sess := s.currentAssistant()
	if sess == nil {
		return ErrAssistantNotRunning
	}
	return sess.SendVideo(jpeg)
}

func (s *Studio) currentAssistant() AssistantSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistant
}

// Advice asks the advisor for a tip based on current per-destination stats.
func (s *Studio) Advice(ctx context.Context) (string, error) {
	s.mu.Lock()
	dests := s.dests.List()
	s.mu.Unlock()
	if s.deps.Advisor == nil {
		return "", ErrAssistantNotRunning
	}
	return s.deps.Advisor.Advise(ctx, dests)
}

// History returns the studio's past sessions, newest first.
func (s *Studio) History(ctx context.Context) ([]models.LiveSessionRecord, error) {
	return s.deps.History.List(ctx, s.id)
}

// Snapshot is the read model rendered by the dashboard.
type Snapshot struct {
	StudioID           uuid.UUID                  `json:"studio_id"`
	State              State                      `json:"state"`
	StartedAt          *time.Time                 `json:"started_at,omitempty"`
	ElapsedSeconds     int64                      `json:"elapsed_seconds"`
	Destinations       []models.StreamDestination `json:"destinations"`
	Totals             Aggregates                 `json:"totals"`
	Offer              *models.FeaturedOffer      `json:"offer,omitempty"`
	OverlayVisible     bool                       `json:"overlay_visible"`
	Links              ShareLinks                 `json:"links"`
	AssistantConnected bool                       `json:"assistant_connected"`
}

// Snapshot returns a consistent copy of the studio state.
func (s *Studio) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		StudioID:           s.id,
		State:              s.state,
		Destinations:       s.dests.List(),
		Totals:             s.dests.Aggregate(),
		Offer:              s.overlay.Offer(),
		OverlayVisible:     s.overlay.Visible(),
		Links:              s.overlay.Links(s.opts.StoreBaseURL),
		AssistantConnected: s.assistant != nil,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
		snap.ElapsedSeconds = int64(s.deps.Now().Sub(t) / time.Second)
	}
	return snap
}

func (s *Studio) notify(text string, sev models.Severity) {
	s.publish(EventNotification, models.Notification{Text: text, Severity: sev, At: s.deps.Now()})
}

func (s *Studio) publish(event string, payload interface{}) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.BroadcastToStudioAndPublish(s.id, event, payload)
}
