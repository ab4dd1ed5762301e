package marketplace

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"

	_ "image/gif"
	_ "image/png"

	"crosspost/domain/model"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const maxImageBytes = 20 << 20

// ImageFetcher downloads product photos so they can be re-encoded for marketplaces
// that do not accept remote URLs.
type ImageFetcher struct {
	http *http.Client
}

func NewImageFetcher(httpClient *http.Client) *ImageFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ImageFetcher{http: httpClient}
}

// Fetch downloads and decodes url. A missing or undecodable image is a validation
// failure of the listing; a transport error is returned unwrapped.
func (f *ImageFetcher) Fetch(ctx context.Context, platform, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.NewFailure(model.KindValidation, platform, fmt.Sprintf("invalid image url %q", url), err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFailure(model.KindValidation, platform, fmt.Sprintf("image %q could not be downloaded (%d)", url, resp.StatusCode), nil)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, model.NewFailure(model.KindValidation, platform, fmt.Sprintf("image %q is not a supported format", url), err)
	}
	return img, nil
}

// FitWithin scales img down, keeping its aspect ratio, until it fits maxW x maxH.
// Smaller images are returned unchanged.
func FitWithin(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}
	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodeJPEGBase64 encodes img as a JPEG at quality and returns it base64 encoded.
func EncodeJPEGBase64(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
