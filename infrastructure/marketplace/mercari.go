package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"
)

const mercariMaxPhotos = 8

var mercariConditions = map[string]int{
	"new":      1,
	"like_new": 2,
	"good":     3,
	"fair":     4,
	"poor":     5,
}

type mercariDraft struct {
	Title       string   `json:"title" validate:"required,max=80"`
	Description string   `json:"description" validate:"required,max=1000"`
	Price       float64  `json:"price" validate:"required,gte=1,lte=2000"`
	Condition   string   `json:"condition" validate:"required"`
	Category    string   `json:"category" validate:"required"`
	Images      []string `json:"images" validate:"min=1,dive,required,url"`
}

type mercariShipping struct {
	PaidBy string `json:"paid_by"`
	Method string `json:"method"`
}

type mercariPhoto struct {
	URL      string `json:"url"`
	Position int    `json:"position"`
}

type mercariListing struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       json.Number     `json:"price"`
	Condition   int             `json:"condition"`
	Shipping    mercariShipping `json:"shipping"`
	CategoryID  string          `json:"category_id"`
	Brand       string          `json:"brand,omitempty"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
	Photos      []mercariPhoto  `json:"photos"`
}

type mercariListingResponse struct {
	ListingID  string `json:"listingId"`
	ListingURL string `json:"listingUrl"`
}

// Mercari accepts remote photo URLs; error codes are the HTTP status.
type Mercari struct {
	client *Client
}

func NewMercari(baseURL string, httpClient *http.Client) *Mercari {
	return &Mercari{client: NewClient("mercari", baseURL, httpClient, decodeMercariError)}
}

func decodeMercariError(status int, body []byte) (string, string) {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	return strconv.Itoa(status), payload.Message
}

func (m *Mercari) Name() string { return "mercari" }

func (m *Mercari) Idempotent() bool { return false }

func (m *Mercari) ErrorCodes() map[string]model.ErrorKind {
	return map[string]model.ErrorKind{
		"401": model.KindAuth,
		"429": model.KindRateLimit,
		"400": model.KindValidation,
	}
}

func (m *Mercari) Validate(product model.Product) error {
	return checkDraft(m.Name(), mercariDraft{
		Title:       product.Title,
		Description: product.Description,
		Price:       product.Price.InexactFloat64(),
		Condition:   product.Condition,
		Category:    product.Category,
		Images:      product.Images,
	})
}

// FormatImages keeps the first eight photos in order.
func (m *Mercari) FormatImages(_ context.Context, images []string) ([]model.ListingImage, error) {
	if len(images) > mercariMaxPhotos {
		logger.GetLogger().WithField("count", len(images)).Info("mercari accepts 8 photos; extra photos dropped")
		images = images[:mercariMaxPhotos]
	}
	out := make([]model.ListingImage, 0, len(images))
	for i, u := range images {
		out = append(out, model.ListingImage{URL: u, Position: i + 1})
	}
	return out, nil
}

func (m *Mercari) listing(d model.ListingDraft) mercariListing {
	photos := make([]mercariPhoto, 0, len(d.Images))
	for _, img := range d.Images {
		photos = append(photos, mercariPhoto{URL: img.URL, Position: img.Position})
	}
	condition, ok := mercariConditions[d.Product.Condition]
	if !ok {
		condition = 3
	}
	return mercariListing{
		Title:       d.Product.Title,
		Description: d.Product.Description,
		Price:       json.Number(d.Product.Price.StringFixed(2)),
		Condition:   condition,
		Shipping:    mercariShipping{PaidBy: "seller", Method: "usps"},
		CategoryID:  d.Product.Category,
		Brand:       d.Product.Brand,
		Size:        d.Product.Size,
		Color:       d.Product.Color,
		Photos:      photos,
	}
}

func (m *Mercari) CreateListing(ctx context.Context, d model.ListingDraft, token string) (model.ListingResult, error) {
	var resp mercariListingResponse
	if err := m.client.Do(ctx, http.MethodPost, "/listings", token, m.listing(d), &resp); err != nil {
		return model.ListingResult{}, err
	}
	return model.ListingResult{ListingID: resp.ListingID, ListingURL: resp.ListingURL}, nil
}

func (m *Mercari) UpdateListing(ctx context.Context, listingID string, d model.ListingDraft, token string) (model.ListingResult, error) {
	var resp mercariListingResponse
	if err := m.client.Do(ctx, http.MethodPut, "/listings/"+url.PathEscape(listingID), token, m.listing(d), &resp); err != nil {
		return model.ListingResult{}, err
	}
	if resp.ListingID == "" {
		resp.ListingID = listingID
	}
	return model.ListingResult{ListingID: resp.ListingID, ListingURL: resp.ListingURL}, nil
}

func (m *Mercari) DeleteListing(ctx context.Context, listingID, token string) error {
	return m.client.Do(ctx, http.MethodDelete, "/listings/"+url.PathEscape(listingID), token, nil, nil)
}
