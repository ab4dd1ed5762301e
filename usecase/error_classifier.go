package usecase

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"crosspost/domain/model"
)

// ErrorSource is the part of a marketplace adapter the classifier consults.
type ErrorSource interface {
	Name() string
	ErrorCodes() map[string]model.ErrorKind
	Idempotent() bool
}

// RetryDelays are the fixed waits before a retryable failure is attempted again.
type RetryDelays struct {
	RateLimit time.Duration
	Network   time.Duration
	Default   time.Duration
}

func DefaultRetryDelays() RetryDelays {
	return RetryDelays{RateLimit: time.Minute, Network: 5 * time.Second, Default: 15 * time.Second}
}

func (d RetryDelays) forKind(kind model.ErrorKind) time.Duration {
	switch kind {
	case model.KindRateLimit:
		return d.RateLimit
	case model.KindNetwork:
		return d.Network
	}
	return d.Default
}

// ErrorClassifier maps raw adapter, transport and limiter errors onto the failure taxonomy.
type ErrorClassifier struct {
	delays         RetryDelays
	strictUpstream bool
}

func NewErrorClassifier(delays RetryDelays) *ErrorClassifier {
	return &ErrorClassifier{delays: delays}
}

// WithoutUpstreamRetryForNonIdempotent stops retrying a 5xx on marketplaces whose
// creates are not idempotent, since the failed call may already have made a listing.
func (c *ErrorClassifier) WithoutUpstreamRetryForNonIdempotent() *ErrorClassifier {
	c.strictUpstream = true
	return c
}

// Classify never returns nil for a non-nil err.
//
// Order: already classified failures pass through; cancellation; no response
// (NetworkError); the adapter's own error codes; status code buckets; Unknown.
func (c *ErrorClassifier) Classify(src ErrorSource, err error) *model.Failure {
	if err == nil {
		return nil
	}
	platform := src.Name()

	var f *model.Failure
	if errors.As(err, &f) {
		out := *f
		return c.finish(src, &out)
	}
	if errors.Is(err, context.Canceled) {
		return c.finish(src, model.NewFailure(model.KindCancelled, platform, "", err))
	}

	var re *model.ResponseError
	if errors.As(err, &re) {
		kind := c.responseKind(src, re)
		detail := ""
		if kind == model.KindValidation {
			detail = re.Message
		}
		return c.finish(src, model.NewFailure(kind, platform, detail, err))
	}

	if noResponse(err) {
		return c.finish(src, model.NewFailure(model.KindNetwork, platform, "", err))
	}
	return c.finish(src, model.NewFailure(model.KindUnknown, platform, "", err))
}

func (c *ErrorClassifier) responseKind(src ErrorSource, re *model.ResponseError) model.ErrorKind {
	if re.Code != "" {
		if kind, ok := src.ErrorCodes()[re.Code]; ok {
			return kind
		}
	}
	switch {
	case re.StatusCode == http.StatusUnauthorized, re.StatusCode == http.StatusForbidden:
		return model.KindAuth
	case re.StatusCode == http.StatusTooManyRequests:
		return model.KindRateLimit
	case re.StatusCode == http.StatusBadRequest:
		return model.KindValidation
	case re.StatusCode >= http.StatusInternalServerError:
		return model.KindUpstream
	}
	return model.KindUnknown
}

// finish applies retry policy and the per-kind delay.
func (c *ErrorClassifier) finish(src ErrorSource, f *model.Failure) *model.Failure {
	f.Retryable = f.Kind.Retryable()
	if c.strictUpstream && f.Kind == model.KindUpstream && !src.Idempotent() && !circuitOpen(f.Err) {
		f.Retryable = false
	}
	if !f.Retryable {
		f.RetryDelay = 0
		return f
	}
	delay := c.delays.forKind(f.Kind)
	if f.RetryDelay <= 0 || f.RetryDelay > delay {
		f.RetryDelay = delay
	}
	return f
}

// circuitOpen reports a request rejected locally by the circuit breaker; it never reached the marketplace.
func circuitOpen(err error) bool {
	var re *model.ResponseError
	return errors.As(err, &re) && re.Code == "circuit_open"
}

func noResponse(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
