package studio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/markethub/livecommerce/internal/models"
)

// DefaultDestinations returns the supported broadcast channels in declaration order.
func DefaultDestinations() []models.StreamDestination {
	return []models.StreamDestination{
		{ID: "yt", Name: "YouTube Live", Icon: "📺", Color: "bg-red-600"},
		{ID: "tk", Name: "TikTok Shop", Icon: "🎵", Color: "bg-black"},
		{ID: "ig", Name: "Instagram Live", Icon: "📸", Color: "bg-pink-600"},
		{ID: "fb", Name: "Facebook Live", Icon: "👥", Color: "bg-blue-700"},
	}
}

// DestinationRegistry holds a fixed, ordered set of destinations. Not safe for
// concurrent use; the owning Studio serializes access.
type DestinationRegistry struct {
	dests []models.StreamDestination
	index map[string]int
}

// NewDestinationRegistry creates a registry with the given destinations. Live flags
// and stats start at zero regardless of the input.
func NewDestinationRegistry(defs []models.StreamDestination) *DestinationRegistry {
	r := &DestinationRegistry{
		dests: make([]models.StreamDestination, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		d.IsLive = false
		d.Stats = models.DestinationStats{Sales: decimal.Zero}
		r.dests[i] = d
		r.index[d.ID] = i
	}
	return r
}

// List returns a copy of all destinations in declaration order.
func (r *DestinationRegistry) List() []models.StreamDestination {
	out := make([]models.StreamDestination, len(r.dests))
	copy(out, r.dests)
	return out
}

// Get returns a destination by id.
func (r *DestinationRegistry) Get(id string) (models.StreamDestination, bool) {
	i, ok := r.index[id]
	if !ok {
		return models.StreamDestination{}, false
	}
	return r.dests[i], true
}

// ToggleLive flips the live flag of a destination and returns its new state.
func (r *DestinationRegistry) ToggleLive(id string) (models.StreamDestination, error) {
	i, ok := r.index[id]
	if !ok {
		return models.StreamDestination{}, fmt.Errorf("%w: %s", ErrUnknownDestination, id)
	}
	r.dests[i].IsLive = !r.dests[i].IsLive
	return r.dests[i], nil
}

// Connect marks a destination as authorized upstream with the given stream key.
func (r *DestinationRegistry) Connect(id, streamKey string) (models.StreamDestination, error) {
	i, ok := r.index[id]
	if !ok {
		return models.StreamDestination{}, fmt.Errorf("%w: %s", ErrUnknownDestination, id)
	}
	r.dests[i].StreamKey = streamKey
	r.dests[i].Connected = streamKey != ""
	return r.dests[i], nil
}

// Replace swaps in destinations produced by a simulator tick. Identity and
// display metadata are kept from the registry; only stats are taken.
func (r *DestinationRegistry) Replace(next []models.StreamDestination) {
	for _, d := range next {
		if i, ok := r.index[d.ID]; ok {
			r.dests[i].Stats = d.Stats
		}
	}
}

// ResetStats zeroes every destination's stats.
func (r *DestinationRegistry) ResetStats() {
	for i := range r.dests {
		r.dests[i].Stats = models.DestinationStats{Sales: decimal.Zero}
	}
}

// Aggregates are the cross-destination totals at one point in time.
type Aggregates struct {
	TotalSales   decimal.Decimal `json:"total_sales"`
	TotalLikes   int             `json:"total_likes"`
	TotalViewers int             `json:"total_viewers"`
	PeakViewers  int             `json:"peak_viewers"`
	BestID       string          `json:"best_id"`
	BestName     string          `json:"best_name"`
}

// Aggregate sums sales and likes, takes the max viewer count, and picks the
// destination with the highest sales. Ties go to the first declared.
func (r *DestinationRegistry) Aggregate() Aggregates {
	agg := Aggregates{TotalSales: decimal.Zero}
	var best *models.StreamDestination
	for i := range r.dests {
		d := &r.dests[i]
		agg.TotalSales = agg.TotalSales.Add(d.Stats.Sales)
		agg.TotalLikes += d.Stats.Likes
		agg.TotalViewers += d.Stats.Viewers
		if d.Stats.Viewers > agg.PeakViewers {
			agg.PeakViewers = d.Stats.Viewers
		}
		if best == nil || d.Stats.Sales.GreaterThan(best.Stats.Sales) {
			best = d
		}
	}
	if best != nil {
		agg.BestID = best.ID
		agg.BestName = best.Name
	}
	return agg
}
