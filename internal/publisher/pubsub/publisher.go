// Package pubsub publishes profile notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topicName string
	publish   publishFunc
	stop      func()
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{
		topicName: topic.ID(),
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
		stop: topic.Stop,
	}
}

// Dial connects to projectID and returns a Publisher for topicName along with
// a close function that flushes pending messages and closes the client.
func Dial(ctx context.Context, projectID, topicName string) (*Publisher, func() error, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := New(client.Topic(topicName))
	closeFn := func() error {
		pub.stop()
		if err := client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
		return nil
	}
	return pub, closeFn, nil
}

// Publish marshals the payload to JSON and publishes it. The topic argument
// is recorded as an attribute; messages always go to the wrapped topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.publish == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"event": topic}}
	id, err := p.publish(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topicName, err)
	}
	return id, nil
}
