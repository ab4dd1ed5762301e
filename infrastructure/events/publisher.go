package events

import (
	"context"
	"fmt"

	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"
)

// NoopPublisher drops events. It is used when no broker is configured.
type NoopPublisher struct{}

func NewNoopPublisher() repository.IEventPublisher { return NoopPublisher{} }

func (NoopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	logger.GetLogger().WithField("routing_key", routingKey).WithField("size", len(payload)).Debug("noop publish")
	return nil
}

func (NoopPublisher) Close() error { return nil }

// NewPublisher builds the publisher selected by configuration.C.Events.Driver.
func NewPublisher(ctx context.Context) (repository.IEventPublisher, error) {
	switch configuration.C.Events.Driver {
	case "pubsub":
		return NewPubSubPublisher(ctx, configuration.C.Pubsub.ProjectID, configuration.C.Pubsub.Topic)
	case "rabbitmq":
		return NewRabbitMQPublisher(configuration.C.RabbitMQ.URL, configuration.C.RabbitMQ.Exchange)
	case "none", "":
		return NewNoopPublisher(), nil
	}
	return nil, fmt.Errorf("unsupported events driver %q", configuration.C.Events.Driver)
}
