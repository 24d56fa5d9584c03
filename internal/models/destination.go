package models

import "github.com/shopspring/decimal"

// DestinationStats holds the live metrics of one broadcast channel.
type DestinationStats struct {
	Viewers int             `json:"viewers"`
	Sales   decimal.Decimal `json:"sales"`
	Likes   int             `json:"likes"`
}

// Valid reports whether the stats can be advanced by the simulator.
func (s DestinationStats) Valid() bool {
	return s.Viewers >= 0 && s.Likes >= 0 && !s.Sales.IsNegative()
}

// StreamDestination is one external channel a studio can fan its broadcast out to.
type StreamDestination struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Icon      string           `json:"icon"`
	Color     string           `json:"color"`
	Connected bool             `json:"connected"`
	StreamKey string           `json:"-"`
	IsLive    bool             `json:"is_live"`
	Stats     DestinationStats `json:"stats"`
}
