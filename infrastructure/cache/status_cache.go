package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crosspost/domain/model"

	"github.com/redis/go-redis/v9"
)

// StatusCache keeps finished cross-post records, which never change again, close to the poll endpoint.
type StatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStatusCache(client redis.Cmdable, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

func statusKey(id string) string { return "crosspost:status:" + id }

// Get returns nil without error on a miss.
func (c *StatusCache) Get(ctx context.Context, id string) (*model.PostingStatus, error) {
	raw, err := c.client.Get(ctx, statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st model.PostingStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *StatusCache) Set(ctx context.Context, status *model.PostingStatus) error {
	if status == nil || !status.Completed {
		return nil
	}
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKey(status.ID), b, c.ttl).Err()
}
