package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrStateNotFound = errors.New("oauth state not found or expired")

// OAuthState ties an authorization redirect back to the account that started it.
type OAuthState struct {
	OwnerID  string `json:"owner_id"`
	Platform string `json:"platform"`
}

type IOAuthState interface {
	Save(ctx context.Context, state string, value OAuthState, ttl time.Duration) error
	// Consume returns the stored value and deletes it so a state is usable once.
	Consume(ctx context.Context, state string) (OAuthState, error)
}

type OAuthStateCache struct {
	client redis.Cmdable
}

func NewOAuthStateCache(client redis.Cmdable) *OAuthStateCache {
	return &OAuthStateCache{client: client}
}

func stateKey(state string) string { return "crosspost:oauth_state:" + state }

func (c *OAuthStateCache) Save(ctx context.Context, state string, value OAuthState, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stateKey(state), b, ttl).Err()
}

func (c *OAuthStateCache) Consume(ctx context.Context, state string) (OAuthState, error) {
	var out OAuthState
	raw, err := c.client.GetDel(ctx, stateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, ErrStateNotFound
	}
	if err != nil {
		return out, fmt.Errorf("consume oauth state: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode oauth state: %w", err)
	}
	return out, nil
}
