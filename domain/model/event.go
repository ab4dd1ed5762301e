package model

import "time"

const (
	EventAttemptPrefix = "crosspost.attempt."
	EventCompleted     = "crosspost.completed"
)

// CrossPostEvent is emitted on every attempt transition and once when an operation completes.
type CrossPostEvent struct {
	Type        string           `json:"type"`
	StatusID    string           `json:"status_id"`
	ProductID   string           `json:"product_id"`
	RequesterID string           `json:"requester_id"`
	Attempt     *PlatformAttempt `json:"attempt,omitempty"`
	Status      *PostingStatus   `json:"status,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

func AttemptEvent(s *PostingStatus, a PlatformAttempt, at time.Time) CrossPostEvent {
	return CrossPostEvent{
		Type:        EventAttemptPrefix + string(a.Status),
		StatusID:    s.ID,
		ProductID:   s.ProductID,
		RequesterID: s.RequesterID,
		Attempt:     &a,
		OccurredAt:  at,
	}
}

func CompletedEvent(s *PostingStatus, at time.Time) CrossPostEvent {
	return CrossPostEvent{
		Type:        EventCompleted,
		StatusID:    s.ID,
		ProductID:   s.ProductID,
		RequesterID: s.RequesterID,
		Status:      s,
		OccurredAt:  at,
	}
}
