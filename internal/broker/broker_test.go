package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisher_PublishesJSONWithRoutingKey(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "sale.completed")
	require.NoError(t, err)
	publisher, err := NewPublisher(client)
	require.NoError(t, err)
	defer publisher.Stop()

	// Act
	id, err := publisher.Publish(ctx, "sale.completed", map[string]any{"sale_id": 1}, map[string]string{
		"sale_id": "1",
		"empty":   "  ",
	})

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	messages := srv.Messages()
	require.Len(t, messages, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(messages[0].Data, &payload))
	assert.EqualValues(t, 1, payload["sale_id"])
	assert.Equal(t, "sale.completed", messages[0].Attributes[AttrRoutingKey])
	assert.Equal(t, "1", messages[0].Attributes["sale_id"])
	assert.NotContains(t, messages[0].Attributes, "empty")
}

func TestPublisher_Validation(t *testing.T) {
	client, _ := newTestClient(t)
	publisher, err := NewPublisher(client)
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), " ", struct{}{}, nil)
	assert.Error(t, err)

	_, err = publisher.Publish(context.Background(), "sale.completed", make(chan int), nil)
	assert.Error(t, err)

	_, err = NewPublisher(nil)
	assert.Error(t, err)
}

func TestConsumer_EnsureSubscriptionIsIdempotent(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client, _ := newTestClient(t)
	consumer, err := NewConsumer(client, HandlerFunc(func(context.Context, string, []byte) error { return nil }),
		ConsumerConfig{SubscriptionPrefix: "sales-test"}, nil)
	require.NoError(t, err)

	// Act
	first, err := consumer.EnsureSubscription(ctx, "transaction.completed")
	require.NoError(t, err)
	second, err := consumer.EnsureSubscription(ctx, "transaction.completed")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "sales-test.transaction.completed", first.ID())
	assert.Equal(t, first.ID(), second.ID())
	cfg, err := second.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, "transaction.completed", cfg.Topic.ID())
	require.NotNil(t, cfg.DeadLetterPolicy)
	assert.Equal(t, DefaultMaxDeliveryAttempts, cfg.DeadLetterPolicy.MaxDeliveryAttempts)

	exists, err := client.Topic(DefaultDeadLetterTopic).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConsumer_RunDeliversAndAcks(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, _ := newTestClient(t)

	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{})
	handler := HandlerFunc(func(_ context.Context, routingKey string, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, routingKey+" "+string(body))
		if len(received) == 2 {
			close(done)
		}
		return nil
	})
	consumer, err := NewConsumer(client, handler, ConsumerConfig{}, nil)
	require.NoError(t, err)

	keys := []string{"escrow.funds_held", "transaction.completed"}
	for _, key := range keys {
		_, err := consumer.EnsureSubscription(ctx, key)
		require.NoError(t, err)
	}
	publisher, err := NewPublisher(client)
	require.NoError(t, err)
	defer publisher.Stop()
	_, err = publisher.Publish(ctx, "escrow.funds_held", map[string]int{"transaction_id": 555}, nil)
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, "transaction.completed", map[string]int{"transaction_id": 555}, nil)
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- consumer.Run(runCtx, keys) }()

	// Act
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("messages were not delivered")
	}
	stop()

	// Assert
	require.NoError(t, <-runErr)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{
		`escrow.funds_held {"transaction_id":555}`,
		`transaction.completed {"transaction_id":555}`,
	}, received)
}

func TestConsumerConfig_Defaults(t *testing.T) {
	cfg := ConsumerConfig{MaxDeliveryAttempts: 20}.withDefaults()

	assert.Equal(t, "sales-service", cfg.SubscriptionPrefix)
	assert.Equal(t, DefaultDeadLetterTopic, cfg.DeadLetterTopic)
	assert.Equal(t, 20, cfg.MaxDeliveryAttempts)
	assert.Equal(t, DefaultAckDeadline, cfg.AckDeadline)
	assert.Equal(t, 10*time.Second, cfg.MinBackoff)
}
