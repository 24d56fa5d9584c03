package studio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/livecommerce/internal/models"
)

func TestDefaultDestinations_Order(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())
	list := reg.List()
	require.Len(t, list, 4)
	ids := []string{list[0].ID, list[1].ID, list[2].ID, list[3].ID}
	assert.Equal(t, []string{"yt", "tk", "ig", "fb"}, ids)
	for _, d := range list {
		assert.False(t, d.IsLive)
		assert.Zero(t, d.Stats.Viewers)
		assert.True(t, d.Stats.Sales.IsZero())
	}
}

func TestNewDestinationRegistry_ZeroesInput(t *testing.T) {
	defs := []models.StreamDestination{{ID: "yt", Name: "YouTube Live", IsLive: true,
		Stats: models.DestinationStats{Viewers: 10, Likes: 3, Sales: decimal.NewFromInt(5)}}}
	reg := NewDestinationRegistry(defs)
	d, ok := reg.Get("yt")
	require.True(t, ok)
	assert.False(t, d.IsLive)
	assert.Zero(t, d.Stats.Viewers)
}

func TestToggleLive(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())

	d, err := reg.ToggleLive("tk")
	require.NoError(t, err)
	assert.True(t, d.IsLive)

	d, err = reg.ToggleLive("tk")
	require.NoError(t, err)
	assert.False(t, d.IsLive)

	_, err = reg.ToggleLive("twitch")
	assert.ErrorIs(t, err, ErrUnknownDestination)
}

func TestListReturnsCopy(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())
	list := reg.List()
	list[0].IsLive = true
	list[0].Stats.Viewers = 99

	d, _ := reg.Get("yt")
	assert.False(t, d.IsLive)
	assert.Zero(t, d.Stats.Viewers)
}

func TestConnect(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())
	d, err := reg.Connect("ig", "live_abc")
	require.NoError(t, err)
	assert.True(t, d.Connected)
	assert.Equal(t, "live_abc", d.StreamKey)

	d, err = reg.Connect("ig", "")
	require.NoError(t, err)
	assert.False(t, d.Connected)

	_, err = reg.Connect("nope", "k")
	assert.ErrorIs(t, err, ErrUnknownDestination)
}

func TestReplaceKeepsIdentity(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())
	_, _ = reg.ToggleLive("yt")

	next := reg.List()
	next[0].Name = "renamed"
	next[0].IsLive = false
	next[0].Stats = models.DestinationStats{Viewers: 12, Likes: 4, Sales: decimal.NewFromInt(30)}
	reg.Replace(next)

	d, _ := reg.Get("yt")
	assert.Equal(t, "YouTube Live", d.Name)
	assert.True(t, d.IsLive)
	assert.Equal(t, 12, d.Stats.Viewers)
	assert.True(t, d.Stats.Sales.Equal(decimal.NewFromInt(30)))
}

func TestResetStats(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())
	next := reg.List()
	next[1].Stats = models.DestinationStats{Viewers: 7, Likes: 2, Sales: decimal.NewFromInt(1)}
	reg.Replace(next)

	reg.ResetStats()
	agg := reg.Aggregate()
	assert.True(t, agg.TotalSales.IsZero())
	assert.Zero(t, agg.TotalLikes)
	assert.Zero(t, agg.PeakViewers)
}

func TestAggregate(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())
	next := reg.List()
	next[0].Stats = models.DestinationStats{Viewers: 40, Likes: 10, Sales: decimal.RequireFromString("99.90")}
	next[1].Stats = models.DestinationStats{Viewers: 120, Likes: 5, Sales: decimal.RequireFromString("199.80")}
	next[2].Stats = models.DestinationStats{Viewers: 15, Likes: 1, Sales: decimal.Zero}
	reg.Replace(next)

	agg := reg.Aggregate()
	assert.True(t, agg.TotalSales.Equal(decimal.RequireFromString("299.70")), agg.TotalSales.String())
	assert.Equal(t, 16, agg.TotalLikes)
	assert.Equal(t, 175, agg.TotalViewers)
	assert.Equal(t, 120, agg.PeakViewers)
	assert.Equal(t, "tk", agg.BestID)
	assert.Equal(t, "TikTok Shop", agg.BestName)
}

func TestAggregate_TieGoesToFirstDeclared(t *testing.T) {
	reg := NewDestinationRegistry(DefaultDestinations())
	agg := reg.Aggregate()
	assert.Equal(t, "yt", agg.BestID)

	next := reg.List()
	next[2].Stats.Sales = decimal.NewFromInt(50)
	next[3].Stats.Sales = decimal.NewFromInt(50)
	reg.Replace(next)
	assert.Equal(t, "ig", reg.Aggregate().BestID)
}
