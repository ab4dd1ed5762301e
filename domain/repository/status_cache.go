package repository

import (
	"context"

	"crosspost/domain/model"
)

// IStatusCache holds completed operations. Get returns nil, nil on a miss.
type IStatusCache interface {
	Get(ctx context.Context, id string) (*model.PostingStatus, error)
	Set(ctx context.Context, status *model.PostingStatus) error
}
