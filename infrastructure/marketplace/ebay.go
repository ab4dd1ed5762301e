package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"crosspost/domain/model"

	"github.com/google/go-querystring/query"
)

const (
	ebayMarketplaceID = "EBAY_US"
	ebayMaxImages     = 12
	inventoryPath     = "/sell/inventory/v1"
)

var ebayConditions = map[string]int{
	"new":      1000,
	"like_new": 2000,
	"good":     3000,
	"fair":     4000,
	"poor":     5000,
}

// EbayPolicies are the seller's business policies attached to every offer.
type EbayPolicies struct {
	FulfillmentPolicyID string `json:"fulfillmentPolicyId,omitempty"`
	PaymentPolicyID     string `json:"paymentPolicyId,omitempty"`
	ReturnPolicyID      string `json:"returnPolicyId,omitempty"`
}

type ebayDraft struct {
	Title       string   `json:"title" validate:"required,max=80"`
	Description string   `json:"description" validate:"required"`
	Price       float64  `json:"price" validate:"required,gt=0"`
	Category    string   `json:"category" validate:"required"`
	Condition   string   `json:"condition" validate:"required"`
	Images      []string `json:"images" validate:"min=1,max=12,dive,required,url"`
}

type ebayInventoryItem struct {
	Product struct {
		Title       string              `json:"title"`
		Description string              `json:"description"`
		Aspects     map[string][]string `json:"aspects,omitempty"`
		ImageURLs   []string            `json:"imageUrls"`
	} `json:"product"`
	Condition    int `json:"condition"`
	Availability struct {
		ShipToLocationAvailability struct {
			Quantity int `json:"quantity"`
		} `json:"shipToLocationAvailability"`
	} `json:"availability"`
}

type ebayAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ebayOffer struct {
	SKU                 string       `json:"sku"`
	MarketplaceID       string       `json:"marketplaceId"`
	Format              string       `json:"format"`
	AvailableQuantity   int          `json:"availableQuantity"`
	CategoryID          string       `json:"categoryId"`
	MerchantLocationKey string       `json:"merchantLocationKey,omitempty"`
	ListingPolicies     EbayPolicies `json:"listingPolicies"`
	PricingSummary      struct {
		Price ebayAmount `json:"price"`
	} `json:"pricingSummary"`
}

type ebayOfferQuery struct {
	SKU           string `url:"sku"`
	MarketplaceID string `url:"marketplace_id"`
	Limit         int    `url:"limit,omitempty"`
}

type ebayOfferSummary struct {
	OfferID string `json:"offerId"`
	Status  string `json:"status"`
	Listing struct {
		ListingID string `json:"listingId"`
	} `json:"listing"`
}

// Ebay creates an inventory item, an offer for it and publishes the offer.
// The inventory SKU is derived from the product, so a repeated create finds
// and reuses the offer made by an earlier attempt.
type Ebay struct {
	client              *Client
	policies            EbayPolicies
	merchantLocationKey string
	listingBaseURL      string
}

func NewEbay(baseURL string, httpClient *http.Client, policies EbayPolicies, merchantLocationKey string) *Ebay {
	return &Ebay{
		client:              NewClient("ebay", baseURL, httpClient, decodeEbayError).WithHeader("Content-Language", "en-US"),
		policies:            policies,
		merchantLocationKey: merchantLocationKey,
		listingBaseURL:      "https://www.ebay.com/itm/",
	}
}

// decodeEbayError reads {"errors": [{"errorId": 11001, "message": "..."}]}.
func decodeEbayError(_ int, body []byte) (string, string) {
	var payload struct {
		Errors []struct {
			ErrorID int    `json:"errorId"`
			Message string `json:"message"`
		} `json:"errors"`
		ErrorID int    `json:"errorId"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return "", ""
	}
	if len(payload.Errors) > 0 {
		return strconv.Itoa(payload.Errors[0].ErrorID), payload.Errors[0].Message
	}
	if payload.ErrorID != 0 {
		return strconv.Itoa(payload.ErrorID), payload.Message
	}
	return "", payload.Message
}

func (e *Ebay) Name() string { return "ebay" }

func (e *Ebay) Idempotent() bool { return true }

func (e *Ebay) ErrorCodes() map[string]model.ErrorKind {
	return map[string]model.ErrorKind{
		"11001": model.KindAuth,
		"11002": model.KindRateLimit,
		"11003": model.KindValidation,
	}
}

func (e *Ebay) Validate(product model.Product) error {
	return checkDraft(e.Name(), ebayDraft{
		Title:       product.Title,
		Description: product.Description,
		Price:       product.Price.InexactFloat64(),
		Category:    product.Category,
		Condition:   product.Condition,
		Images:      product.Images,
	})
}

func (e *Ebay) FormatImages(_ context.Context, images []string) ([]model.ListingImage, error) {
	if len(images) > ebayMaxImages {
		images = images[:ebayMaxImages]
	}
	out := make([]model.ListingImage, 0, len(images))
	for i, u := range images {
		out = append(out, model.ListingImage{URL: u, Position: i})
	}
	return out, nil
}

// SKU is the inventory key for a product.
func SKU(productID string) string { return "CP-" + productID }

func (e *Ebay) inventoryItem(d model.ListingDraft) ebayInventoryItem {
	var item ebayInventoryItem
	p := d.Product
	item.Product.Title = p.Title
	item.Product.Description = p.Description
	aspects := map[string][]string{}
	if p.Brand != "" {
		aspects["Brand"] = []string{p.Brand}
	}
	if p.Size != "" {
		aspects["Size"] = []string{p.Size}
	}
	if p.Color != "" {
		aspects["Color"] = []string{p.Color}
	}
	item.Product.Aspects = aspects
	for _, img := range d.Images {
		item.Product.ImageURLs = append(item.Product.ImageURLs, img.URL)
	}
	item.Condition = ebayConditions[p.Condition]
	if item.Condition == 0 {
		item.Condition = 3000
	}
	item.Availability.ShipToLocationAvailability.Quantity = 1
	return item
}

func (e *Ebay) offer(d model.ListingDraft) ebayOffer {
	o := ebayOffer{
		SKU:                 SKU(d.Product.ID),
		MarketplaceID:       ebayMarketplaceID,
		Format:              "FIXED_PRICE",
		AvailableQuantity:   1,
		CategoryID:          d.Product.Category,
		MerchantLocationKey: e.merchantLocationKey,
		ListingPolicies:     e.policies,
	}
	o.PricingSummary.Price = ebayAmount{Value: d.Product.Price.StringFixed(2), Currency: "USD"}
	return o
}

func (e *Ebay) putInventoryItem(ctx context.Context, d model.ListingDraft, token string) error {
	path := inventoryPath + "/inventory_item/" + url.PathEscape(SKU(d.Product.ID))
	return e.client.Do(ctx, http.MethodPut, path, token, e.inventoryItem(d), nil)
}

// existingOffer returns the offer an earlier attempt created for sku, if any.
func (e *Ebay) existingOffer(ctx context.Context, sku, token string) (*ebayOfferSummary, error) {
	q, err := query.Values(ebayOfferQuery{SKU: sku, MarketplaceID: ebayMarketplaceID, Limit: 1})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Offers []ebayOfferSummary `json:"offers"`
	}
	err = e.client.Do(ctx, http.MethodGet, inventoryPath+"/offer?"+q.Encode(), token, nil, &resp)
	var re *model.ResponseError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Offers) == 0 {
		return nil, nil
	}
	return &resp.Offers[0], nil
}

func (e *Ebay) publish(ctx context.Context, offerID, token string) (string, error) {
	var resp struct {
		ListingID string `json:"listingId"`
	}
	path := inventoryPath + "/offer/" + url.PathEscape(offerID) + "/publish"
	if err := e.client.Do(ctx, http.MethodPost, path, token, nil, &resp); err != nil {
		return "", err
	}
	return resp.ListingID, nil
}

// CreateListing returns the offer id as the listing id; the public URL points at the published item.
func (e *Ebay) CreateListing(ctx context.Context, d model.ListingDraft, token string) (model.ListingResult, error) {
	sku := SKU(d.Product.ID)
	existing, err := e.existingOffer(ctx, sku, token)
	if err != nil {
		return model.ListingResult{}, err
	}
	if existing != nil && existing.Status == "PUBLISHED" && existing.Listing.ListingID != "" {
		return model.ListingResult{ListingID: existing.OfferID, ListingURL: e.listingBaseURL + existing.Listing.ListingID}, nil
	}

	if err := e.putInventoryItem(ctx, d, token); err != nil {
		return model.ListingResult{}, err
	}

	offerID := ""
	if existing != nil {
		offerID = existing.OfferID
	} else {
		var created struct {
			OfferID string `json:"offerId"`
		}
		if err := e.client.Do(ctx, http.MethodPost, inventoryPath+"/offer", token, e.offer(d), &created); err != nil {
			return model.ListingResult{}, err
		}
		offerID = created.OfferID
	}

	listingID, err := e.publish(ctx, offerID, token)
	if err != nil {
		return model.ListingResult{}, err
	}
	return model.ListingResult{ListingID: offerID, ListingURL: e.listingBaseURL + listingID}, nil
}

// UpdateListing replaces the inventory item and the offer's price and policies.
func (e *Ebay) UpdateListing(ctx context.Context, offerID string, d model.ListingDraft, token string) (model.ListingResult, error) {
	if err := e.putInventoryItem(ctx, d, token); err != nil {
		return model.ListingResult{}, err
	}
	path := inventoryPath + "/offer/" + url.PathEscape(offerID)
	if err := e.client.Do(ctx, http.MethodPut, path, token, e.offer(d), nil); err != nil {
		return model.ListingResult{}, err
	}
	var current ebayOfferSummary
	if err := e.client.Do(ctx, http.MethodGet, path, token, nil, &current); err != nil {
		return model.ListingResult{}, err
	}
	res := model.ListingResult{ListingID: offerID}
	if current.Listing.ListingID != "" {
		res.ListingURL = e.listingBaseURL + current.Listing.ListingID
	}
	return res, nil
}

// DeleteListing withdraws the published offer, ending the listing.
func (e *Ebay) DeleteListing(ctx context.Context, offerID, token string) error {
	path := inventoryPath + "/offer/" + url.PathEscape(offerID) + "/withdraw"
	return e.client.Do(ctx, http.MethodPost, path, token, nil, nil)
}
