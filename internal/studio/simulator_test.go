package studio

import (
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/livecommerce/internal/models"
)

func alwaysSell(bool, *rand.Rand) bool { return true }
func neverSell(bool, *rand.Rand) bool  { return false }

func liveDests(ids ...string) []models.StreamDestination {
	reg := NewDestinationRegistry(DefaultDestinations())
	for _, id := range ids {
		_, _ = reg.ToggleLive(id)
	}
	return reg.List()
}

func TestTick_OnlyLiveDestinationsChange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	in := liveDests("yt")
	offer := OfferSnapshot{HasProduct: true, LivePrice: decimal.NewFromInt(10)}

	for i := 0; i < 200; i++ {
		next, sales := Tick(in, offer, rng, alwaysSell)
		for j := 1; j < len(next); j++ {
			assert.Equal(t, in[j], next[j], "non-live destination %s changed", next[j].ID)
		}
		for _, s := range sales {
			assert.Equal(t, "yt", s.DestinationID)
		}
		in = next
	}
}

func TestTick_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	dests := liveDests("yt", "tk", "ig", "fb")
	offer := OfferSnapshot{}

	for i := 0; i < 1000; i++ {
		next, sales := Tick(dests, offer, rng, neverSell)
		require.Empty(t, sales)
		for j := range next {
			prev, cur := dests[j].Stats, next[j].Stats
			assert.GreaterOrEqual(t, cur.Viewers, 0)
			assert.GreaterOrEqual(t, cur.Viewers, max(0, prev.Viewers-5))
			assert.LessOrEqual(t, cur.Viewers, prev.Viewers+14)
			assert.GreaterOrEqual(t, cur.Likes, prev.Likes)
			assert.LessOrEqual(t, cur.Likes, prev.Likes+29)
			assert.True(t, cur.Sales.Equal(prev.Sales))
		}
		dests = next
	}
}

func TestTick_DoesNotModifyInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	in := liveDests("yt", "tk")
	orig := append([]models.StreamDestination(nil), in...)
	_, _ = Tick(in, OfferSnapshot{HasProduct: true, LivePrice: decimal.NewFromInt(1)}, rng, alwaysSell)
	assert.Equal(t, orig, in)
}

func TestTick_SaleCreditsLivePrice(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	in := liveDests("tk", "fb")
	price := decimal.RequireFromString("129.90")

	next, sales := Tick(in, OfferSnapshot{HasProduct: true, LivePrice: price}, rng, alwaysSell)
	require.Len(t, sales, 2)
	for _, s := range sales {
		assert.True(t, s.Amount.Equal(price))
	}
	tk := next[1]
	assert.Equal(t, "tk", tk.ID)
	assert.True(t, tk.Stats.Sales.Equal(price))
}

func TestTick_NoSaleWithoutProductOrPrice(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	in := liveDests("yt")

	_, sales := Tick(in, OfferSnapshot{HasProduct: false, LivePrice: decimal.NewFromInt(10)}, rng, alwaysSell)
	assert.Empty(t, sales)

	_, sales = Tick(in, OfferSnapshot{HasProduct: true, LivePrice: decimal.Zero}, rng, alwaysSell)
	assert.Empty(t, sales)
}

func TestTick_SkipsMalformedStats(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 11))
	in := liveDests("yt")
	in[0].Stats.Viewers = -3

	next, sales := Tick(in, OfferSnapshot{HasProduct: true, LivePrice: decimal.NewFromInt(1)}, rng, alwaysSell)
	assert.Empty(t, sales)
	assert.Equal(t, in[0], next[0])
}

func TestDefaultSalePolicy_Rates(t *testing.T) {
	rng := rand.New(rand.NewPCG(2024, 1))
	const n = 20000
	normal, flash := 0, 0
	for i := 0; i < n; i++ {
		if DefaultSalePolicy(false, rng) {
			normal++
		}
		if DefaultSalePolicy(true, rng) {
			flash++
		}
	}
	assert.InDelta(t, 0.02, float64(normal)/n, 0.01)
	assert.InDelta(t, 0.20, float64(flash)/n, 0.02)
}

func TestTicker_StartStop(t *testing.T) {
	var calls atomic.Int32
	tk := NewTicker(5*time.Millisecond, func() { calls.Add(1) })

	tk.Start()
	tk.Start()
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	tk.Stop()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no ticks after Stop returns")

	tk.Stop()
}

func TestTicker_Restart(t *testing.T) {
	var calls atomic.Int32
	tk := NewTicker(5*time.Millisecond, func() { calls.Add(1) })
	tk.Start()
	tk.Stop()
	base := calls.Load()

	tk.Start()
	assert.Eventually(t, func() bool { return calls.Load() > base }, time.Second, time.Millisecond)
	tk.Stop()
}
