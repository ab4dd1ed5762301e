package repository

import (
	"context"
	"errors"
	"time"

	"crosspost/domain/model"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrAttemptFinal = errors.New("platform attempt already terminal")
)

// IPostingStatus persists cross-post operations and their per-platform attempts.
type IPostingStatus interface {
	Create(ctx context.Context, status *model.PostingStatus) error
	// Get returns the operation with all attempts read in a single statement.
	Get(ctx context.Context, id string) (*model.PostingStatus, error)
	// List returns a page of the requester's operations, newest first, and the total count.
	List(ctx context.Context, requesterID, productID string, limit, offset int) ([]*model.PostingStatus, int, error)
	// UpdateAttempt writes one attempt row. Terminal attempts are never overwritten (ErrAttemptFinal).
	UpdateAttempt(ctx context.Context, statusID string, attempt *model.PlatformAttempt) error
	// MarkCompleted flips completed exactly once; it reports whether this call did the flip.
	MarkCompleted(ctx context.Context, statusID string, at time.Time) (bool, error)
	// StaleIDs lists unfinished operations holding a non-terminal attempt untouched since before.
	StaleIDs(ctx context.Context, before time.Time) ([]string, error)
}
