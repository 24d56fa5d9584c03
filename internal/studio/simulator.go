package studio

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/markethub/livecommerce/internal/models"
)

const (
	// DefaultTickInterval is the period between simulated metric updates.
	DefaultTickInterval = 3 * time.Second

	// No-sale probabilities per tick and destination.
	noSaleProbability      = 0.98
	noSaleProbabilityFlash = 0.80
)

// SalePolicy decides whether a destination converts a sale on this tick.
type SalePolicy func(isFlashSale bool, rng *rand.Rand) bool

// DefaultSalePolicy triggers a sale with probability 0.02, or 0.20 during a flash sale.
func DefaultSalePolicy(isFlashSale bool, rng *rand.Rand) bool {
	threshold := noSaleProbability
	if isFlashSale {
		threshold = noSaleProbabilityFlash
	}
	return rng.Float64() > threshold
}

// OfferSnapshot is the featured-offer state read once at the start of a tick.
type OfferSnapshot struct {
	HasProduct  bool
	LivePrice   decimal.Decimal
	IsFlashSale bool
}

// SaleEvent is a simulated sale credited to one destination.
type SaleEvent struct {
	DestinationID   string
	DestinationName string
	Amount          decimal.Decimal
}

// Tick advances every live destination by one step and returns the new
// destination list plus the sales that occurred. The input is not modified.
// Destinations that are not live, or whose stats are malformed, are copied unchanged.
func Tick(dests []models.StreamDestination, offer OfferSnapshot, rng *rand.Rand, policy SalePolicy) ([]models.StreamDestination, []SaleEvent) {
	if policy == nil {
		policy = DefaultSalePolicy
	}
	next := make([]models.StreamDestination, len(dests))
	copy(next, dests)

	var sales []SaleEvent
	for i := range next {
		d := &next[i]
		if !d.IsLive || !d.Stats.Valid() {
			continue
		}
		d.Stats.Viewers = max(0, d.Stats.Viewers+rng.IntN(20)-5)
		d.Stats.Likes += rng.IntN(30)
		if policy(offer.IsFlashSale, rng) && offer.HasProduct && offer.LivePrice.IsPositive() {
			d.Stats.Sales = d.Stats.Sales.Add(offer.LivePrice)
			sales = append(sales, SaleEvent{DestinationID: d.ID, DestinationName: d.Name, Amount: offer.LivePrice})
		}
	}
	return next, sales
}

// Ticker runs a callback on a fixed period until stopped. Stop is idempotent
// and waits for an in-flight callback to return.
type Ticker struct {
	interval time.Duration
	fn       func()
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTicker creates a stopped ticker.
func NewTicker(interval time.Duration, fn func()) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{interval: interval, fn: fn}
}

// Start begins ticking. Calling Start on a running ticker is a no-op.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

// Stop cancels the ticker and blocks until its goroutine exits.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.cancel = nil
	<-t.done
}

func (t *Ticker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ctx may have been cancelled while the tick was pending
			if ctx.Err() != nil {
				return
			}
			t.fn()
		}
	}
}
