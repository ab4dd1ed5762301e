package model

import "time"

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptFailed     AttemptStatus = "failed"
)

func (s AttemptStatus) Terminal() bool {
	return s == AttemptCompleted || s == AttemptFailed
}

// AttemptResult carries the listing on success or the classified error on failure.
type AttemptResult struct {
	ListingID  string    `json:"listing_id,omitempty"`
	ListingURL string    `json:"listing_url,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// PlatformAttempt is the progress of one platform inside a cross-post operation.
type PlatformAttempt struct {
	Platform      string         `json:"platform"`
	Status        AttemptStatus  `json:"status"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	Result        *AttemptResult `json:"result,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PostingStatus is the persistent record of one cross-post request.
type PostingStatus struct {
	ID          string            `json:"id"`
	ProductID   string            `json:"product_id"`
	RequesterID string            `json:"requester_id"`
	RetryOf     *string           `json:"retry_of,omitempty"`
	Attempts    []PlatformAttempt `json:"platforms"`
	Completed   bool              `json:"completed"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (p *PostingStatus) Attempt(platform string) *PlatformAttempt {
	for i := range p.Attempts {
		if p.Attempts[i].Platform == platform {
			return &p.Attempts[i]
		}
	}
	return nil
}

func (p *PostingStatus) AllTerminal() bool {
	for _, a := range p.Attempts {
		if !a.Status.Terminal() {
			return false
		}
	}
	return true
}

func (p *PostingStatus) FailedPlatforms() []string {
	var out []string
	for _, a := range p.Attempts {
		if a.Status == AttemptFailed {
			out = append(out, a.Platform)
		}
	}
	return out
}

// CrossPostRequest is the caller's intent to publish a product to several marketplaces.
type CrossPostRequest struct {
	ProductID   string
	RequesterID string
	Platforms   []string
}
