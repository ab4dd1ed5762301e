package repository

import "context"

// IEventPublisher forwards cross-post events to a message broker keyed by event type.
type IEventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}
