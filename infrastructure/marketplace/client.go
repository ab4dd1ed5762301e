package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"github.com/sony/gobreaker/v2"
)

// ErrorDecoder extracts the marketplace's own error code and message from a failed response body.
type ErrorDecoder func(status int, body []byte) (code, message string)

// Client is the JSON transport shared by the marketplace adapters. Responses outside
// 2xx become *model.ResponseError; transport failures are returned as is.
type Client struct {
	platform string
	baseURL  string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	decode   ErrorDecoder
	header   http.Header
}

func NewClient(platform, baseURL string, httpClient *http.Client, decode ErrorDecoder) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	settings := gobreaker.Settings{
		Name:        platform,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejections of the request itself say nothing about the marketplace's health.
		IsSuccessful: func(err error) bool {
			var re *model.ResponseError
			if errors.As(err, &re) {
				return re.StatusCode < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.GetLogger().WithField("platform", name).WithField("from", from.String()).WithField("to", to.String()).Warn("marketplace circuit breaker state changed")
		},
	}
	return &Client{
		platform: platform,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		breaker:  gobreaker.NewCircuitBreaker[[]byte](settings),
		decode:   decode,
		header:   http.Header{},
	}
}

// WithHeader adds a header sent on every request.
func (c *Client) WithHeader(key, value string) *Client {
	c.header.Set(key, value)
	return c
}

// Do sends in as JSON (when non-nil) and decodes the response into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, path, token string, in, out interface{}) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, token, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &model.ResponseError{
			Platform:   c.platform,
			StatusCode: http.StatusServiceUnavailable,
			Code:       "circuit_open",
			Message:    err.Error(),
		}
	}
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.platform, err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, in interface{}) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", c.platform, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.platform, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, msg := "", ""
		if c.decode != nil {
			code, msg = c.decode(resp.StatusCode, body)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &model.ResponseError{Platform: c.platform, StatusCode: resp.StatusCode, Code: code, Message: msg}
	}
	return body, nil
}
