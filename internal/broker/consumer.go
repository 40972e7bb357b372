package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults applied when ConsumerConfig leaves a field zero.
const (
	DefaultDeadLetterTopic     = "sales.events.dead-letter"
	DefaultMaxDeliveryAttempts = 10
	DefaultMaxOutstanding      = 8
	DefaultAckDeadline         = 60 * time.Second
)

// Handler processes one message. Returning nil acks it; an error nacks it for redelivery.
type Handler interface {
	Handle(ctx context.Context, routingKey string, body []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, routingKey string, body []byte) error

func (f HandlerFunc) Handle(ctx context.Context, routingKey string, body []byte) error {
	return f(ctx, routingKey, body)
}

// ConsumerConfig controls subscription naming and delivery policy.
type ConsumerConfig struct {
	// SubscriptionPrefix is prepended to the routing key, e.g. "sales-service.transaction.created".
	SubscriptionPrefix  string
	DeadLetterTopic     string
	MaxDeliveryAttempts int
	MaxOutstanding      int
	AckDeadline         time.Duration
	MinBackoff          time.Duration
	MaxBackoff          time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if strings.TrimSpace(c.SubscriptionPrefix) == "" {
		c.SubscriptionPrefix = "sales-service"
	}
	if strings.TrimSpace(c.DeadLetterTopic) == "" {
		c.DeadLetterTopic = DefaultDeadLetterTopic
	}
	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = DefaultMaxDeliveryAttempts
	}
	if c.MaxOutstanding <= 0 {
		c.MaxOutstanding = DefaultMaxOutstanding
	}
	if c.AckDeadline <= 0 {
		c.AckDeadline = DefaultAckDeadline
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 10 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Minute
	}
	return c
}

// Consumer runs one Receive loop per routing key.
type Consumer struct {
	client  *pubsub.Client
	handler Handler
	cfg     ConsumerConfig
	logger  *zap.Logger
}

// NewConsumer wires a Pub/Sub client to handler.
func NewConsumer(client *pubsub.Client, handler Handler, cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("pubsub consumer: client is required")
	}
	if handler == nil {
		return nil, errors.New("pubsub consumer: handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, handler: handler, cfg: cfg.withDefaults(), logger: logger}, nil
}

// SubscriptionID returns the subscription consumed for routingKey.
func (c *Consumer) SubscriptionID(routingKey string) string {
	return c.cfg.SubscriptionPrefix + "." + routingKey
}

// Run blocks until ctx is cancelled or a Receive loop fails. Receive returns only after
// every in-flight callback has finished, so cancellation never leaves a half-handled message.
func (c *Consumer) Run(ctx context.Context, routingKeys []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range routingKeys {
		sub, err := c.EnsureSubscription(ctx, key)
		if err != nil {
			return err
		}
		g.Go(func() error {
			c.logger.Info("consuming payment events",
				zap.String("routing_key", key),
				zap.String("subscription", sub.ID()),
			)
			err := sub.Receive(ctx, func(msgCtx context.Context, m *pubsub.Message) {
				c.deliver(msgCtx, key, m)
			})
			if err != nil {
				return fmt.Errorf("receive %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) deliver(ctx context.Context, subscribedKey string, m *pubsub.Message) {
	routingKey := subscribedKey
	if key := strings.TrimSpace(m.Attributes[AttrRoutingKey]); key != "" {
		routingKey = key
	}

	if err := c.handler.Handle(ctx, routingKey, m.Data); err != nil {
		fields := []zap.Field{
			zap.String("routing_key", routingKey),
			zap.String("message_id", m.ID),
			zap.Error(err),
		}
		if m.DeliveryAttempt != nil {
			fields = append(fields, zap.Int("delivery_attempt", *m.DeliveryAttempt))
		}
		c.logger.Warn("nacking message", fields...)
		m.Nack()
		return
	}
	m.Ack()
}

// EnsureSubscription returns the routing key subscription, creating its topic, the dead-letter
// topic and the subscription itself when missing.
func (c *Consumer) EnsureSubscription(ctx context.Context, routingKey string) (*pubsub.Subscription, error) {
	sub := c.client.Subscription(c.SubscriptionID(routingKey))
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", sub.ID(), err)
	}
	if !exists {
		topic, err := ensureTopic(ctx, c.client, routingKey)
		if err != nil {
			return nil, err
		}
		deadLetter, err := ensureTopic(ctx, c.client, c.cfg.DeadLetterTopic)
		if err != nil {
			return nil, err
		}
		sub, err = c.client.CreateSubscription(ctx, c.SubscriptionID(routingKey), pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: c.cfg.AckDeadline,
			DeadLetterPolicy: &pubsub.DeadLetterPolicy{
				DeadLetterTopic:     deadLetter.String(),
				MaxDeliveryAttempts: c.cfg.MaxDeliveryAttempts,
			},
			RetryPolicy: &pubsub.RetryPolicy{
				MinimumBackoff: c.cfg.MinBackoff,
				MaximumBackoff: c.cfg.MaxBackoff,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create subscription for %s: %w", routingKey, err)
		}
	}
	sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	return sub, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, id string) (*pubsub.Topic, error) {
	topic := client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", id, err)
	}
	if exists {
		return topic, nil
	}
	topic, err = client.CreateTopic(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create topic %s: %w", id, err)
	}
	return topic, nil
}
