package studio

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/livecommerce/internal/models"
)

type fakeMedia struct {
	mu     sync.Mutex
	err    error
	closed int
}

func (m *fakeMedia) WaitForPublisher(context.Context, uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *fakeMedia) ClosePublisher(uuid.UUID) {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
}

type sentEvent struct {
	name    string
	payload interface{}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []sentEvent
}

func (e *fakeEvents) BroadcastToStudioAndPublish(_ uuid.UUID, event string, payload interface{}) {
	e.mu.Lock()
	e.events = append(e.events, sentEvent{event, payload})
	e.mu.Unlock()
}

func (e *fakeEvents) notifications() []models.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Notification
	for _, ev := range e.events {
		if n, ok := ev.payload.(models.Notification); ok && ev.name == EventNotification {
			out = append(out, n)
		}
	}
	return out
}

func (e *fakeEvents) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.name == name {
			n++
		}
	}
	return n
}

type fakeScripts struct {
	script *models.LiveScript
	err    error
}

func (f *fakeScripts) GenerateScript(context.Context, string) (*models.LiveScript, error) {
	return f.script, f.err
}

type fakeAssistantSession struct {
	mu     sync.Mutex
	audio  [][]byte
	video  [][]byte
	closed bool
}

func (f *fakeAssistantSession) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeAssistantSession) SendVideo(jpeg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, jpeg)
	return nil
}

func (f *fakeAssistantSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAssistantSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDialer struct {
	sess *fakeAssistantSession
	err  error
}

func (d *fakeDialer) Dial(context.Context, AssistantCallbacks) (AssistantSession, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

type failingHistory struct{ HistoryStore }

// ctxHistory rejects appends on a canceled context, like a database driver.
type ctxHistory struct{ *MemoryHistory }

func (h ctxHistory) Append(ctx context.Context, rec models.LiveSessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.MemoryHistory.Append(ctx, rec)
}

// gatedMedia blocks capture until gate is closed. With honorCtx it also
// gives up when the wait is canceled.
type gatedMedia struct {
	fakeMedia
	gate     chan struct{}
	honorCtx bool
}

func (m *gatedMedia) WaitForPublisher(ctx context.Context, _ uuid.UUID) error {
	if !m.honorCtx {
		<-m.gate
		return nil
	}
	select {
	case <-m.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (failingHistory) Append(context.Context, models.LiveSessionRecord) error {
	return errors.New("disk full")
}

type fakeCatalog struct {
	productID uuid.UUID
	price     decimal.Decimal
}

func (c *fakeCatalog) UpdatePrice(_ context.Context, id uuid.UUID, price decimal.Decimal) error {
	c.productID, c.price = id, price
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	studio  *Studio
	media   *fakeMedia
	events  *fakeEvents
	history *MemoryHistory
	clock   *fakeClock
}

func newHarness(t *testing.T, mutate func(*Deps, *Options)) *harness {
	t.Helper()
	h := &harness{
		media:   &fakeMedia{},
		events:  &fakeEvents{},
		history: NewMemoryHistory(10),
		clock:   &fakeClock{now: time.Date(2025, 3, 14, 19, 5, 30, 0, time.UTC)},
	}
	deps := Deps{
		Media:      h.media,
		History:    h.history,
		Events:     h.events,
		Now:        h.clock.Now,
		NewRand:    func() *rand.Rand { return rand.New(rand.NewPCG(1, 1)) },
		SalePolicy: alwaysSell,
	}
	opts := Options{TickInterval: time.Hour}
	if mutate != nil {
		mutate(&deps, &opts)
	}
	h.studio = New(uuid.New(), deps, opts)
	t.Cleanup(func() { _ = h.studio.Close(context.Background()) })
	return h
}

func TestStart_CaptureFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.media.err = context.DeadlineExceeded

	err := h.studio.Start(context.Background())
	require.ErrorIs(t, err, ErrCaptureUnavailable)
	assert.Equal(t, StateIdle, h.studio.State())

	notes := h.events.notifications()
	require.NotEmpty(t, notes)
	assert.Equal(t, models.SeverityError, notes[len(notes)-1].Severity)
	assert.Zero(t, h.events.count(EventSessionStarted))
}

func TestStart_IsIdempotentWhileLive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.studio.Start(ctx))
	assert.Equal(t, StateLive, h.studio.State())
	require.NoError(t, h.studio.Start(ctx))
	assert.Equal(t, 1, h.events.count(EventSessionStarted))
}

func TestToggleDestination_RequiresLive(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.studio.ToggleDestination("yt")
	assert.ErrorIs(t, err, ErrNotLive)

	require.NoError(t, h.studio.Start(context.Background()))
	d, err := h.studio.ToggleDestination("yt")
	require.NoError(t, err)
	assert.True(t, d.IsLive)

	_, err = h.studio.ToggleDestination("twitch")
	assert.ErrorIs(t, err, ErrUnknownDestination)
}

func TestTick_IgnoredWhenIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.studio.tick()
	assert.Zero(t, h.events.count(EventStatsTick))
}

func TestSessionLifecycle_RecordsHistory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.studio

	require.NoError(t, s.Start(ctx))
	_, err := s.ToggleDestination("tk")
	require.NoError(t, err)
	s.FeatureProduct(testProduct("SKU-1", "Smart Watch", "299.90"))
	_, err = s.SetLivePrice(decimal.RequireFromString("199.90"))
	require.NoError(t, err)

	s.tick()
	s.tick()
	h.clock.Advance(5*time.Minute + 59*time.Second)

	snap := s.Snapshot()
	assert.True(t, snap.Totals.TotalSales.Equal(decimal.RequireFromString("399.80")))
	assert.Equal(t, "tk", snap.Totals.BestID)
	assert.EqualValues(t, 359, snap.ElapsedSeconds)
	assert.True(t, snap.OverlayVisible)

	rec, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2025-03-14", rec.Date)
	assert.Equal(t, "19:05", rec.StartTime)
	assert.Equal(t, 5, rec.DurationMinutes)
	assert.True(t, rec.TotalSales.Equal(decimal.RequireFromString("399.80")))
	assert.Equal(t, "TikTok Shop", rec.BestPlatform)
	assert.Equal(t, snap.Totals.PeakViewers, rec.PeakViewers)

	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Snapshot().OverlayVisible)
	assert.Equal(t, 1, h.media.closed)
	assert.Equal(t, 1, h.events.count(EventSessionStopped))
	assert.Equal(t, 2, h.events.count(EventStatsTick))

	list, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestStop_WhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	rec, err := h.studio.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)

	list, _ := h.studio.History(context.Background())
	assert.Empty(t, list)
}

func TestStop_NoTicksAfterStop(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.TickInterval = 2 * time.Millisecond })
	ctx := context.Background()
	require.NoError(t, h.studio.Start(ctx))
	assert.Eventually(t, func() bool { return h.events.count(EventStatsTick) > 0 }, time.Second, time.Millisecond)

	_, err := h.studio.Stop(ctx)
	require.NoError(t, err)
	n := h.events.count(EventStatsTick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, h.events.count(EventStatsTick))
}

func TestStop_HistoryFailureStillReturnsRecord(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) { d.History = failingHistory{} })
	ctx := context.Background()
	require.NoError(t, h.studio.Start(ctx))

	rec, err := h.studio.Stop(ctx)
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateIdle, h.studio.State())
	assert.Equal(t, 1, h.media.closed)
}

func TestStop_PersistsWithCanceledContext(t *testing.T) {
	mem := NewMemoryHistory(10)
	h := newHarness(t, func(d *Deps, _ *Options) { d.History = ctxHistory{mem} })
	require.NoError(t, h.studio.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := h.studio.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)

	list, err := mem.List(context.Background(), h.studio.ID())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestManager_ShutdownWhileStarting(t *testing.T) {
	for _, tc := range []struct {
		name     string
		honorCtx bool
	}{
		{"capture wait canceled", true},
		{"capture arrives after shutdown", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			media := &gatedMedia{gate: make(chan struct{}), honorCtx: tc.honorCtx}
			events := &fakeEvents{}
			m := NewManager(Deps{Media: media, History: NewMemoryHistory(5), Events: events},
				Options{TickInterval: time.Millisecond, CaptureTimeout: time.Minute})
			s := m.Get(uuid.New())

			startErr := make(chan error, 1)
			go func() { startErr <- s.Start(context.Background()) }()
			require.Eventually(t, func() bool { return s.State() == StateStarting }, time.Second, time.Millisecond)

			require.NoError(t, m.Shutdown(context.Background()))
			close(media.gate)

			select {
			case err := <-startErr:
				assert.ErrorIs(t, err, ErrStudioClosed)
			case <-time.After(time.Second):
				t.Fatal("start did not return")
			}
			assert.Equal(t, StateIdle, s.State())
			assert.Zero(t, events.count(EventSessionStarted))
			time.Sleep(10 * time.Millisecond)
			assert.Zero(t, events.count(EventStatsTick))
			assert.ErrorIs(t, s.Start(context.Background()), ErrStudioClosed)
		})
	}
}

func TestStatsPersistAcrossSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.studio
	s.FeatureProduct(testProduct("SKU-1", "Watch", "10"))

	require.NoError(t, s.Start(ctx))
	_, _ = s.ToggleDestination("yt")
	s.tick()
	first, err := s.Stop(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	s.tick()
	second, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, second.TotalSales.GreaterThan(first.TotalSales))
}

func TestStatsResetOnStartWhenConfigured(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.ResetStatsOnStart = true })
	ctx := context.Background()
	s := h.studio
	s.FeatureProduct(testProduct("SKU-1", "Watch", "10"))

	require.NoError(t, s.Start(ctx))
	_, _ = s.ToggleDestination("yt")
	s.tick()
	first, _ := s.Stop(ctx)

	require.NoError(t, s.Start(ctx))
	s.tick()
	second, _ := s.Stop(ctx)
	assert.True(t, second.TotalSales.Equal(first.TotalSales))
}

func TestFeatureProduct_ScriptArrives(t *testing.T) {
	script := &models.LiveScript{Hook: "Look at this!", Benefits: []string{"Waterproof"}, Offer: "Today only"}
	h := newHarness(t, func(d *Deps, _ *Options) { d.Scripts = &fakeScripts{script: script} })

	offer := h.studio.FeatureProduct(testProduct("SKU-1", "Watch", "10"))
	assert.Nil(t, offer.Script)

	assert.Eventually(t, func() bool {
		o := h.studio.Snapshot().Offer
		return o != nil && o.Script != nil && o.Script.Hook == "Look at this!"
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return h.events.count(EventScriptReady) == 1 }, time.Second, time.Millisecond)
}

func TestFeatureProduct_ScriptFailureLeavesEmpty(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) { d.Scripts = &fakeScripts{err: errors.New("quota")} })
	h.studio.FeatureProduct(testProduct("SKU-1", "Watch", "10"))

	assert.Eventually(t, func() bool {
		for _, n := range h.events.notifications() {
			if n.Severity == models.SeverityInfo {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	assert.Nil(t, h.studio.Snapshot().Offer.Script)
}

func TestLaunchFlashSale(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.studio.LaunchFlashSale()
	assert.ErrorIs(t, err, ErrNoFeaturedProduct)

	h.studio.FeatureProduct(testProduct("SKU-1", "Watch", "10"))
	offer, err := h.studio.LaunchFlashSale()
	require.NoError(t, err)
	assert.True(t, offer.IsFlashSale)
}

func TestSyncLivePrice(t *testing.T) {
	catalog := &fakeCatalog{}
	h := newHarness(t, func(d *Deps, _ *Options) { d.Catalog = catalog })

	_, err := h.studio.SyncLivePrice(context.Background())
	assert.ErrorIs(t, err, ErrNoFeaturedProduct)

	p := testProduct("SKU-1", "Watch", "10")
	h.studio.FeatureProduct(p)
	_, err = h.studio.SetLivePrice(decimal.RequireFromString("7.50"))
	require.NoError(t, err)

	_, err = h.studio.SyncLivePrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.ID, catalog.productID)
	assert.True(t, catalog.price.Equal(decimal.RequireFromString("7.50")))
}

func TestAssistant_BridgesWhileLive(t *testing.T) {
	sess := &fakeAssistantSession{}
	h := newHarness(t, func(d *Deps, _ *Options) { d.Assistant = &fakeDialer{sess: sess} })
	ctx := context.Background()

	assert.ErrorIs(t, h.studio.PushAudio([]byte{1}), ErrAssistantNotRunning)

	require.NoError(t, h.studio.Start(ctx))
	assert.Eventually(t, func() bool { return h.studio.Snapshot().AssistantConnected }, time.Second, time.Millisecond)

	require.NoError(t, h.studio.PushAudio([]byte{1, 2}))
	require.NoError(t, h.studio.PushVideo([]byte{0xff, 0xd8}))

	_, err := h.studio.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, sess.isClosed())
	assert.False(t, h.studio.Snapshot().AssistantConnected)
	assert.Len(t, sess.audio, 1)
	assert.Len(t, sess.video, 1)
}

func TestAssistant_DialFailureKeepsSessionLive(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) { d.Assistant = &fakeDialer{err: errors.New("no key")} })
	require.NoError(t, h.studio.Start(context.Background()))

	assert.Eventually(t, func() bool {
		for _, n := range h.events.notifications() {
			if n.Severity == models.SeverityInfo {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateLive, h.studio.State())
}

func TestManager_GetCreatesOncePerSeller(t *testing.T) {
	m := NewManager(Deps{Media: &fakeMedia{}, History: NewMemoryHistory(5)}, Options{TickInterval: time.Hour})
	a, b := uuid.New(), uuid.New()

	assert.Same(t, m.Get(a), m.Get(a))
	assert.NotSame(t, m.Get(a), m.Get(b))

	_, ok := m.Lookup(uuid.New())
	assert.False(t, ok)
	assert.ErrorIs(t, m.PushAudio(uuid.New(), nil), ErrNotLive)

	require.NoError(t, m.Get(a).Start(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, StateIdle, m.Get(a).State())
}
