package repository

import (
	"context"

	"crosspost/domain/model"
)

// IMarketplace is a single marketplace integration.
type IMarketplace interface {
	Name() string
	// Validate checks the product against the marketplace's rules without any network call.
	Validate(product model.Product) error
	FormatImages(ctx context.Context, images []string) ([]model.ListingImage, error)
	CreateListing(ctx context.Context, draft model.ListingDraft, token string) (model.ListingResult, error)
	UpdateListing(ctx context.Context, listingID string, draft model.ListingDraft, token string) (model.ListingResult, error)
	DeleteListing(ctx context.Context, listingID, token string) error
	// ErrorCodes maps marketplace-specific error codes onto the failure taxonomy.
	ErrorCodes() map[string]model.ErrorKind
	// Idempotent reports whether a repeated CreateListing for the same product reuses the first listing.
	Idempotent() bool
}
