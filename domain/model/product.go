package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the read-only snapshot of a catalog item taken when a cross-post starts.
type Product struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Price            decimal.Decimal   `json:"price"`
	Condition        string            `json:"condition"`
	Size             string            `json:"size"`
	Brand            string            `json:"brand"`
	Color            string            `json:"color"`
	Category         string            `json:"category"`
	SubCategory      string            `json:"sub_category"`
	Images           []string          `json:"images"`
	Measurements     map[string]string `json:"measurements,omitempty"`
	Material         string            `json:"material,omitempty"`
	CareInstructions string            `json:"care_instructions,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ListingImage is an image prepared for a marketplace upload. Exactly one of
// URL or Data is set depending on what the marketplace accepts.
type ListingImage struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	Position int    `json:"position"`
}

// ListingDraft bundles the product snapshot with its formatted images.
type ListingDraft struct {
	Product Product
	Images  []ListingImage
}

type ListingResult struct {
	ListingID  string `json:"listing_id"`
	ListingURL string `json:"listing_url"`
}
