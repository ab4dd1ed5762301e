package events

import (
	"context"
	"sync"

	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubPublisher publishes every event to one Google Pub/Sub topic. The routing
// key travels in the "event_type" attribute so subscriptions can filter on it.
type PubSubPublisher struct {
	client    *pubsub.Client
	topicName string

	mu    sync.Mutex
	topic *pubsub.Topic
}

func NewPubSubPublisher(ctx context.Context, projectID, topic string, opts ...option.ClientOption) (repository.IEventPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &PubSubPublisher{client: client, topicName: topic}, nil
}

// ensureTopic creates the topic on first use if it does not exist. A failed
// lookup is not remembered; the next publish tries again.
func (p *PubSubPublisher) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	topic := p.client.Topic(p.topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", p.topicName).Info("Topic doesn't exist - creating it")
		if topic, err = p.client.CreateTopic(ctx, p.topicName); err != nil {
			return nil, err
		}
	}
	p.topic = topic
	return topic, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return err
	}
	serverID, err := topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"event_type": routingKey},
	}).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server_id", serverID).WithField("event_type", routingKey).Debug("Message published")
	return nil
}

func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	topic := p.topic
	p.mu.Unlock()
	if topic != nil {
		topic.Stop()
	}
	return p.client.Close()
}
