package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"crosspost/domain/model"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	poshmarkMaxSide     = 1200
	poshmarkJPEGQuality = 85
)

var poshmarkCategories = map[string]string{
	"womens_clothing": "Women/Clothing",
	"mens_clothing":   "Men/Clothing",
	"accessories":     "Accessories",
}

var poshmarkConditions = map[string]string{
	"new":      "NWT",
	"like_new": "NWOT",
	"good":     "Good",
	"fair":     "Fair",
	"poor":     "Poor",
}

type poshmarkDraft struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Price       float64  `json:"price" validate:"required,gte=3,lte=5000"`
	Size        string   `json:"size" validate:"required"`
	Brand       string   `json:"brand" validate:"required"`
	Category    string   `json:"category" validate:"required"`
	Color       string   `json:"color" validate:"required"`
	Condition   string   `json:"condition" validate:"required"`
	Images      []string `json:"images" validate:"min=1,max=8,dive,required"`
}

type poshmarkListing struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       int64    `json:"price"`
	Size        string   `json:"size"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category"`
	SubCategory string   `json:"sub_category,omitempty"`
	Color       string   `json:"color"`
	Condition   string   `json:"condition"`
	Photos      []string `json:"photos"`
	Department  string   `json:"department"`
	SourceType  string   `json:"source_type"`
}

type poshmarkListingResponse struct {
	ListingID  string `json:"listing_id"`
	ListingURL string `json:"listing_url"`
	Status     string `json:"status"`
}

// Poshmark posts listings with photos uploaded inline as base64 JPEGs.
type Poshmark struct {
	client *Client
	images *ImageFetcher
}

func NewPoshmark(baseURL string, httpClient *http.Client) *Poshmark {
	return &Poshmark{
		client: NewClient("poshmark", baseURL, httpClient, decodePoshmarkError),
		images: NewImageFetcher(httpClient),
	}
}

// decodePoshmarkError reads {"error": {"code": "...", "message": "..."}}.
func decodePoshmarkError(_ int, body []byte) (string, string) {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return "", ""
	}
	return payload.Error.Code, payload.Error.Message
}

func (p *Poshmark) Name() string { return "poshmark" }

func (p *Poshmark) Idempotent() bool { return false }

func (p *Poshmark) ErrorCodes() map[string]model.ErrorKind {
	return map[string]model.ErrorKind{
		"AUTH_001": model.KindAuth,
		"RATE_001": model.KindRateLimit,
		"VAL_001":  model.KindValidation,
	}
}

func (p *Poshmark) Validate(product model.Product) error {
	return checkDraft(p.Name(), poshmarkDraft{
		Title:       product.Title,
		Description: product.Description,
		Price:       product.Price.InexactFloat64(),
		Size:        product.Size,
		Brand:       product.Brand,
		Category:    product.Category,
		Color:       product.Color,
		Condition:   product.Condition,
		Images:      product.Images,
	})
}

// FormatImages downloads every photo and re-encodes it to fit 1200x1200 at JPEG quality 85.
func (p *Poshmark) FormatImages(ctx context.Context, images []string) ([]model.ListingImage, error) {
	out := make([]model.ListingImage, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, u := range images {
		i, u := i, u
		g.Go(func() error {
			img, err := p.images.Fetch(gctx, p.Name(), u)
			if err != nil {
				return err
			}
			data, err := EncodeJPEGBase64(FitWithin(img, poshmarkMaxSide, poshmarkMaxSide), poshmarkJPEGQuality)
			if err != nil {
				return model.NewFailure(model.KindValidation, p.Name(), fmt.Sprintf("image %q could not be encoded", u), err)
			}
			out[i] = model.ListingImage{Data: data, Position: i}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Poshmark) listing(d model.ListingDraft) poshmarkListing {
	photos := make([]string, 0, len(d.Images))
	for _, img := range d.Images {
		photos = append(photos, img.Data)
	}
	pr := d.Product
	return poshmarkListing{
		Title:       pr.Title,
		Description: poshmarkDescription(pr),
		Price:       toCents(pr.Price),
		Size:        pr.Size,
		Brand:       pr.Brand,
		Category:    poshmarkCategory(pr.Category),
		SubCategory: pr.SubCategory,
		Color:       pr.Color,
		Condition:   poshmarkCondition(pr.Condition),
		Photos:      photos,
		Department:  poshmarkDepartment(pr.Category),
		SourceType:  "API",
	}
}

func (p *Poshmark) CreateListing(ctx context.Context, d model.ListingDraft, token string) (model.ListingResult, error) {
	var resp poshmarkListingResponse
	if err := p.client.Do(ctx, http.MethodPost, "/listings", token, p.listing(d), &resp); err != nil {
		return model.ListingResult{}, err
	}
	return model.ListingResult{ListingID: resp.ListingID, ListingURL: resp.ListingURL}, nil
}

func (p *Poshmark) UpdateListing(ctx context.Context, listingID string, d model.ListingDraft, token string) (model.ListingResult, error) {
	var resp poshmarkListingResponse
	if err := p.client.Do(ctx, http.MethodPut, "/listings/"+url.PathEscape(listingID), token, p.listing(d), &resp); err != nil {
		return model.ListingResult{}, err
	}
	if resp.ListingID == "" {
		resp.ListingID = listingID
	}
	return model.ListingResult{ListingID: resp.ListingID, ListingURL: resp.ListingURL}, nil
}

func (p *Poshmark) DeleteListing(ctx context.Context, listingID, token string) error {
	return p.client.Do(ctx, http.MethodDelete, "/listings/"+url.PathEscape(listingID), token, nil, nil)
}

// poshmarkDescription appends measurements, material and care instructions to the description.
func poshmarkDescription(p model.Product) string {
	var b strings.Builder
	b.WriteString(p.Description)
	if len(p.Measurements) > 0 {
		keys := make([]string, 0, len(p.Measurements))
		for k := range p.Measurements {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nMeasurements:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, p.Measurements[k])
		}
	}
	if p.Material != "" {
		fmt.Fprintf(&b, "\nMaterial: %s", p.Material)
	}
	if p.CareInstructions != "" {
		fmt.Fprintf(&b, "\n\nCare Instructions: %s", p.CareInstructions)
	}
	return b.String()
}

func poshmarkCategory(category string) string {
	if c, ok := poshmarkCategories[category]; ok {
		return c
	}
	return category
}

func poshmarkCondition(condition string) string {
	if c, ok := poshmarkConditions[condition]; ok {
		return c
	}
	return condition
}

func poshmarkDepartment(category string) string {
	switch {
	case strings.HasPrefix(category, "womens_"):
		return "Women"
	case strings.HasPrefix(category, "mens_"):
		return "Men"
	case strings.HasPrefix(category, "kids_"):
		return "Kids"
	}
	return "Women"
}

func toCents(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}
