package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the stable failure taxonomy shown to callers.
type ErrorKind string

const (
	KindValidation ErrorKind = "ValidationError"
	KindAuth       ErrorKind = "AuthError"
	KindRateLimit  ErrorKind = "RateLimitExceeded"
	KindNetwork    ErrorKind = "NetworkError"
	KindUpstream   ErrorKind = "UpstreamServiceError"
	KindCancelled  ErrorKind = "Cancelled"
	KindUnknown    ErrorKind = "Unknown"
)

// Retryable reports whether a failure of this kind may be attempted again after a delay.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindUpstream, KindRateLimit:
		return true
	}
	return false
}

// ErrTokenUnavailable marks auth failures raised while obtaining a token, before any
// marketplace call. Refreshing again cannot help these.
var ErrTokenUnavailable = errors.New("marketplace token unavailable")

// Failure is a classified error for a single platform.
type Failure struct {
	Kind       ErrorKind     `json:"kind"`
	Platform   string        `json:"platform"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryDelay time.Duration `json:"retry_delay"`
	Err        error         `json:"-"`
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Platform, f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: %s: %s", f.Platform, f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// ResponseError is returned by marketplace calls that received a non-2xx response.
type ResponseError struct {
	Platform   string
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s responded %d (%s): %s", e.Platform, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s responded %d: %s", e.Platform, e.StatusCode, e.Message)
}

// UserMessage renders the caller-facing text for a failure on platform.
func UserMessage(kind ErrorKind, platform, detail string) string {
	prefix := strings.ToUpper(platform) + " Error: "
	switch kind {
	case KindAuth:
		return prefix + "Authentication failed. Please reconnect your account."
	case KindRateLimit:
		return prefix + "Rate limit exceeded. Please try again later."
	case KindValidation:
		if detail == "" {
			detail = "listing data rejected"
		}
		return prefix + "Invalid request: " + detail
	case KindUpstream:
		return prefix + "Service temporarily unavailable. Please try again later."
	case KindNetwork:
		return prefix + "Network error. Please check your internet connection."
	case KindCancelled:
		return prefix + "Cross-post was cancelled."
	}
	return prefix + "An unexpected error occurred."
}

// NewFailure builds a failure with the kind's default retryability and user message.
func NewFailure(kind ErrorKind, platform, detail string, err error) *Failure {
	return &Failure{
		Kind:      kind,
		Platform:  platform,
		Message:   UserMessage(kind, platform, detail),
		Retryable: kind.Retryable(),
		Err:       err,
	}
}
