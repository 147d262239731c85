// Package pubsub publishes chapter completion events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Config names the project and default topic.
type Config struct {
	ProjectID string
	Topic     string
}

// Publisher wraps a Pub/Sub client and caches topic handles.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	logger       *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher over an existing client.
func New(client *pubsub.Client, defaultTopic string, logger *zap.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		logger:       logger.Named("pubsub"),
		topics:       make(map[string]*pubsub.Topic),
	}, nil
}

// NewFromConfig dials Pub/Sub with application default credentials.
func NewFromConfig(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client, cfg.Topic, logger)
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Publish marshals payload to JSON, publishes it and waits for the server id.
// An empty topic uses the configured default.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("published", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
