package studio

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/markethub/livecommerce/internal/models"
)

const (
	// DefaultOfferTag labels the overlay during a flash sale.
	DefaultOfferTag = "FLASH SALE"

	qrServiceURL = "https://api.qrserver.com/v1/create-qr-code/"
)

// Overlay is the featured-offer state shown on top of the broadcast. Not safe
// for concurrent use; the owning Studio serializes access.
//
// Every change that requests a new script bumps the generation, so a script
// that arrives for an older product or price is discarded.
type Overlay struct {
	offer      *models.FeaturedOffer
	visible    bool
	generation uint64
	defaultTag string
}

// NewOverlay creates an empty overlay.
func NewOverlay(defaultTag string) *Overlay {
	if defaultTag == "" {
		defaultTag = DefaultOfferTag
	}
	return &Overlay{defaultTag: defaultTag}
}

// Feature replaces the offer wholesale with product p at its catalog price and
// returns the generation a script request must carry.
func (o *Overlay) Feature(p models.Product) uint64 {
	tag := o.defaultTag
	if o.offer != nil && o.offer.OfferTag != "" {
		tag = o.offer.OfferTag
	}
	o.offer = &models.FeaturedOffer{
		Product:   p,
		LivePrice: p.Price,
		OfferTag:  tag,
	}
	o.visible = true
	o.generation++
	return o.generation
}

// LaunchFlashSale switches the current offer into flash-sale mode, keeping the
// operator's live price.
func (o *Overlay) LaunchFlashSale() (uint64, error) {
	if o.offer == nil {
		return 0, ErrNoFeaturedProduct
	}
	o.offer.IsFlashSale = true
	o.visible = true
	o.generation++
	return o.generation, nil
}

// SetLivePrice overrides the live price. No bounds are enforced.
func (o *Overlay) SetLivePrice(price decimal.Decimal) error {
	if o.offer == nil {
		return ErrNoFeaturedProduct
	}
	o.offer.LivePrice = price
	return nil
}

// SetOfferTag changes the flash-sale label.
func (o *Overlay) SetOfferTag(tag string) error {
	if o.offer == nil {
		return ErrNoFeaturedProduct
	}
	o.offer.OfferTag = strings.TrimSpace(tag)
	return nil
}

// ApplyScript stores a generated script if gen is still current.
func (o *Overlay) ApplyScript(gen uint64, script *models.LiveScript) bool {
	if o.offer == nil || gen != o.generation {
		return false
	}
	o.offer.Script = script
	return true
}

// Hide removes the overlay from the broadcast. The offer itself is kept.
func (o *Overlay) Hide() { o.visible = false }

// Visible reports whether the overlay is on screen.
func (o *Overlay) Visible() bool { return o.visible }

// Offer returns a copy of the current offer, or nil.
func (o *Overlay) Offer() *models.FeaturedOffer {
	if o.offer == nil {
		return nil
	}
	cp := *o.offer
	if o.offer.Script != nil {
		s := *o.offer.Script
		s.Benefits = append([]string(nil), o.offer.Script.Benefits...)
		cp.Script = &s
	}
	return &cp
}

// Snapshot captures what the simulator needs for one tick.
func (o *Overlay) Snapshot() OfferSnapshot {
	if o.offer == nil {
		return OfferSnapshot{LivePrice: decimal.Zero}
	}
	return OfferSnapshot{
		HasProduct:  true,
		LivePrice:   o.offer.LivePrice,
		IsFlashSale: o.offer.IsFlashSale,
	}
}

// ScriptPrompt describes the current offer for the script generator.
func (o *Overlay) ScriptPrompt() string {
	if o.offer == nil {
		return ""
	}
	if o.offer.IsFlashSale {
		return fmt.Sprintf("%s - %s FOR R$ %s. Maximum urgency.",
			o.offer.Product.Name, strings.ToUpper(o.offer.OfferTag), o.offer.LivePrice.StringFixed(2))
	}
	return fmt.Sprintf("%s. Regular price R$ %s. Encourage viewers to scan the QR code to buy.",
		o.offer.Product.Name, o.offer.Product.Price.StringFixed(2))
}

// ShareLinks are the product page and QR code shown on the overlay.
type ShareLinks struct {
	ProductURL string `json:"product_url"`
	QRCodeURL  string `json:"qr_code_url"`
}

// Links builds the share links for the current offer against storeBase.
func (o *Overlay) Links(storeBase string) ShareLinks {
	productURL := storeBase
	if o.offer != nil {
		productURL = fmt.Sprintf("%s/p/%s?live_price=%s",
			strings.TrimRight(storeBase, "/"), url.PathEscape(o.offer.Product.SKU), o.offer.LivePrice.String())
	}
	q := url.Values{}
	q.Set("size", "250x250")
	q.Set("data", productURL)
	q.Set("bgcolor", "ffffff")
	q.Set("color", "0f172a")
	q.Set("margin", "1")
	return ShareLinks{ProductURL: productURL, QRCodeURL: qrServiceURL + "?" + q.Encode()}
}
