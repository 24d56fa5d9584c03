package models

import "github.com/shopspring/decimal"

// LiveScript is the AI-generated promotional script shown to the presenter.
type LiveScript struct {
	Hook     string   `json:"hook"`
	Benefits []string `json:"benefits"`
	Offer    string   `json:"offer"`
}

// FeaturedOffer is the product currently highlighted on every live destination.
type FeaturedOffer struct {
	Product     Product         `json:"product"`
	LivePrice   decimal.Decimal `json:"live_price"`
	OfferTag    string          `json:"offer_tag"`
	IsFlashSale bool            `json:"is_flash_sale"`
	Script      *LiveScript     `json:"script,omitempty"`
}
