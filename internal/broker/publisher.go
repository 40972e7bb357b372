// Package broker carries sales events over Google Cloud Pub/Sub, one topic per routing key.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
)

// AttrRoutingKey is set on every published message.
const AttrRoutingKey = "routing_key"

// Publisher publishes JSON payloads to the topic named after the routing key.
type Publisher struct {
	client  *pubsub.Client
	marshal func(any) ([]byte, error)

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher constructs a Pub/Sub backed publisher.
func NewPublisher(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub publisher: client is required")
	}
	return &Publisher{
		client:  client,
		marshal: json.Marshal,
		topics:  map[string]*pubsub.Topic{},
	}, nil
}

// Publish enqueues payload on the routing key topic and waits for the server id.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any, attrs map[string]string) (string, error) {
	if p == nil || p.client == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	routingKey = strings.TrimSpace(routingKey)
	if routingKey == "" {
		return "", errors.New("pubsub publisher: routing key is required")
	}

	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", routingKey, err)
	}

	attributes := map[string]string{AttrRoutingKey: routingKey}
	for k, v := range attrs {
		setAttr(attributes, k, v)
	}

	result := p.topic(routingKey).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return id, nil
}

// Stop flushes pending messages of every topic used so far.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
}

func (p *Publisher) topic(routingKey string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[routingKey]; ok {
		return t
	}
	t := p.client.Topic(routingKey)
	p.topics[routingKey] = t
	return t
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
