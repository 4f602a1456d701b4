// Package pubsub publishes run completion notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Config names the destination topic.
type Config struct {
	ProjectID string
	TopicName string
}

type sender interface {
	send(ctx context.Context, msg *pubsub.Message) (string, error)
	stop()
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topicName string
	out       sender
	closeFn   func() error
}

// New connects to Pub/Sub and binds cfg.TopicName.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, fmt.Errorf("pubsub.project_id and pubsub.topic_name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{
		topicName: cfg.TopicName,
		out:       topicSender{topic: client.Topic(cfg.TopicName)},
		closeFn:   client.Close,
	}, nil
}

// Publish marshals payload to JSON and waits for the server-assigned ID.
// The topic argument must match the bound topic or be empty.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.out == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic != "" && topic != p.topicName {
		return "", fmt.Errorf("publisher is bound to topic %q, not %q", p.topicName, topic)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := p.out.send(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	})
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.out != nil {
		p.out.stop()
	}
	if p.closeFn != nil {
		if err := p.closeFn(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

type topicSender struct {
	topic *pubsub.Topic
}

func (t topicSender) send(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.topic.Publish(ctx, msg).Get(ctx)
}

func (t topicSender) stop() {
	t.topic.Stop()
}
