package google_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
	"github.com/infigaming-com/cloudpubsub-transport/pubsub/driver/google"
)

func newClient(t *testing.T) *gcppubsub.Client {
	t.Helper()
	ctx := context.Background()
	server := pstest.NewServer()
	t.Cleanup(func() { _ = server.Close() })

	conn, err := grpc.DialContext(ctx, server.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	gcpClient, err := gcppubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gcpClient.Close() })
	return gcpClient
}

func newBroker(t *testing.T) *google.Broker {
	t.Helper()
	return newBrokerWithClient(t, newClient(t))
}

func newBrokerWithClient(t *testing.T, gcpClient *gcppubsub.Client) *google.Broker {
	t.Helper()
	ctx := context.Background()
	broker, err := google.New(ctx, google.Config{
		Client: gcpClient,
		Receive: google.ReceiveSettings{
			NumGoroutines:          1,
			MaxOutstandingMessages: 10,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close(context.Background()) })
	return broker
}

func TestNewRequiresProjectWithoutClient(t *testing.T) {
	_, err := google.New(context.Background(), google.Config{})
	assert.Error(t, err)
}

func TestCreateTopicReportsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	broker := newBroker(t)

	require.NoError(t, broker.CreateTopic(ctx, "missions"))
	err := broker.CreateTopic(ctx, "missions")

	require.Error(t, err)
	assert.True(t, pubsub.IsAlreadyExists(err))
}

func TestCreateSubscriptionAndMetadata(t *testing.T) {
	ctx := context.Background()
	broker := newBroker(t)
	require.NoError(t, broker.CreateTopic(ctx, "missions"))

	stream, err := broker.CreateSubscription(ctx, "missions", "missions-sub", pubsub.SubscriptionConfig{AckDeadline: 20 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "missions-sub", stream.Name())

	topic, err := stream.Topic(ctx)
	require.NoError(t, err)
	assert.Equal(t, "missions", topic)

	_, err = broker.CreateSubscription(ctx, "missions", "missions-sub", pubsub.SubscriptionConfig{})
	assert.True(t, pubsub.IsAlreadyExists(err))

	existing, err := broker.Subscription(ctx, "missions-sub")
	require.NoError(t, err)
	assert.Equal(t, "missions-sub", existing.Name())
}

func TestSubscriptionNotFound(t *testing.T) {
	_, err := newBroker(t).Subscription(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, pubsub.IsNotFound(err))
}

func TestServerOverGoogleBroker(t *testing.T) {
	ctx := context.Background()
	broker := newBroker(t)

	received := make(chan map[string]any, 1)
	handlers := pubsub.NewHandlers().Handle("mission-updated", func(ctx context.Context, data map[string]any) (any, error) {
		received <- data
		return nil, nil
	})

	server, err := pubsub.New(broker, handlers,
		pubsub.WithDefaultTopic("missions"),
		pubsub.WithDefaultSubscription("missions-sub"),
		pubsub.WithAckAfterHandler(true),
		pubsub.WithEnableLogger(false),
	)
	require.NoError(t, err)

	ready := make(chan struct{})
	server.Listen(ctx, func() { close(ready) })
	<-ready
	require.Equal(t, []string{"missions-sub"}, server.Subscriptions())

	publisher, err := pubsub.NewPublisher(broker)
	require.NoError(t, err)
	_, err = publisher.Publish(ctx, "missions", "mission-updated", map[string]any{"input": 4})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, map[string]any{"input": float64(4)}, data)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, server.Close(closeCtx))
}

func TestCloseReleasesUnsettledMessages(t *testing.T) {
	ctx := context.Background()
	gcpClient := newClient(t)
	broker := newBrokerWithClient(t, gcpClient)

	var invalid, unknown atomic.Int32
	hooks := pubsub.Hooks{
		OnInvalid:        func(context.Context, string, pubsub.MessageMetadata, error) { invalid.Add(1) },
		OnUnknownPattern: func(context.Context, string, pubsub.MessageMetadata, string) { unknown.Add(1) },
	}
	server, err := pubsub.New(broker, pubsub.NewHandlers(),
		pubsub.WithDefaultTopic("missions"),
		pubsub.WithDefaultSubscription("missions-sub"),
		pubsub.WithAckAfterHandler(true),
		pubsub.WithEnableLogger(false),
		pubsub.WithHooks(hooks),
	)
	require.NoError(t, err)
	ready := make(chan struct{})
	server.Listen(ctx, func() { close(ready) })
	<-ready

	_, err = broker.Publish(ctx, "missions", pubsub.OutboundMessage{Data: []byte("not json")})
	require.NoError(t, err)
	_, err = broker.Publish(ctx, "missions", pubsub.OutboundMessage{Data: []byte(`{"pattern":"nobody-listens","data":{}}`)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return invalid.Load() == 1 && unknown.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, broker.Outstanding())

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, server.Close(closeCtx))
	require.NoError(t, broker.Close(closeCtx))
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Zero(t, broker.Outstanding())

	// released messages come back on the next receiver
	again := newBrokerWithClient(t, gcpClient)
	var redelivered atomic.Int32
	next, err := pubsub.New(again, pubsub.NewHandlers(),
		pubsub.WithEnableLogger(false),
		pubsub.WithHooks(pubsub.Hooks{
			OnReceive: func(context.Context, string, pubsub.MessageMetadata) { redelivered.Add(1) },
		}),
	)
	require.NoError(t, err)
	_, err = next.AttachSubscription(ctx, "missions-sub")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return redelivered.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, next.Close(closeCtx))
}
