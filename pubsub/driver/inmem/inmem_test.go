package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
)

func receiveOne(t *testing.T, s pubsub.Stream) *pubsub.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make(chan *pubsub.RawMessage, 1)
	go func() {
		_ = s.Receive(ctx, func(_ context.Context, m *pubsub.RawMessage) {
			got <- m
			cancel()
		})
	}()
	select {
	case m := <-got:
		return m
	case <-ctx.Done():
		t.Fatal("no message received")
		return nil
	}
}

func TestBrokerProvisioning(t *testing.T) {
	ctx := context.Background()
	b := New()

	require.NoError(t, b.CreateTopic(ctx, "orders"))
	assert.True(t, pubsub.IsAlreadyExists(b.CreateTopic(ctx, "orders")))

	_, err := b.CreateSubscription(ctx, "missing", "sub", pubsub.SubscriptionConfig{})
	assert.True(t, pubsub.IsNotFound(err))

	s, err := b.CreateSubscription(ctx, "projects/p/topics/orders", "orders-sub", pubsub.SubscriptionConfig{})
	require.NoError(t, err)
	topic, err := s.Topic(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders", topic)

	_, err = b.CreateSubscription(ctx, "orders", "orders-sub", pubsub.SubscriptionConfig{})
	assert.True(t, pubsub.IsAlreadyExists(err))

	_, err = b.Subscription(ctx, "nope")
	assert.True(t, pubsub.IsNotFound(err))

	require.NoError(t, b.DeleteTopic(ctx, "orders"))
	topic, err = s.Topic(ctx)
	require.NoError(t, err)
	assert.Equal(t, pubsub.DeletedTopic, topic)

	require.NoError(t, b.CreateTopic(ctx, "orders"))
	topic, _ = s.Topic(ctx)
	assert.Equal(t, pubsub.DeletedTopic, topic)
}

func TestPublishFansOut(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreateTopic(ctx, "orders"))
	first, err := b.CreateSubscription(ctx, "orders", "first", pubsub.SubscriptionConfig{})
	require.NoError(t, err)
	second, err := b.CreateSubscription(ctx, "orders", "second", pubsub.SubscriptionConfig{})
	require.NoError(t, err)

	id, err := b.Publish(ctx, "orders", pubsub.OutboundMessage{
		Data:       []byte(`{"pattern":"x"}`),
		Attributes: map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	for _, s := range []pubsub.Stream{first, second} {
		m := receiveOne(t, s)
		assert.Equal(t, id, m.ID)
		assert.Equal(t, `{"pattern":"x"}`, string(m.Data))
		assert.Equal(t, map[string]string{"k": "v"}, m.Attributes)
		assert.Equal(t, 1, m.DeliveryAttempt)
		m.Ack()
		m.Ack()
	}
	assert.Equal(t, int64(1), b.Acked("first"))
	assert.Equal(t, int64(1), b.Acked("second"))

	_, err = b.Publish(ctx, "missing", pubsub.OutboundMessage{})
	assert.True(t, pubsub.IsNotFound(err))
}

func TestNackRedelivers(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreateTopic(ctx, "orders"))
	s, err := b.CreateSubscription(ctx, "orders", "orders-sub", pubsub.SubscriptionConfig{})
	require.NoError(t, err)
	_, err = b.Publish(ctx, "orders", pubsub.OutboundMessage{Data: []byte("1")})
	require.NoError(t, err)

	m := receiveOne(t, s)
	m.Nack(5 * time.Millisecond)
	m.Ack()

	again := receiveOne(t, s)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, 2, again.DeliveryAttempt)
	again.Ack()

	require.NoError(t, b.Close(ctx))
	assert.Equal(t, int64(1), b.Nacked("orders-sub"))
	assert.Equal(t, int64(1), b.Acked("orders-sub"))
}

func TestDeadLetterAfterMaxDeliveryAttempts(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreateTopic(ctx, "orders"))
	require.NoError(t, b.CreateTopic(ctx, "orders-dlq"))
	s, err := b.CreateSubscription(ctx, "orders", "orders-sub", pubsub.SubscriptionConfig{
		DeadLetterTopic:     "orders-dlq",
		MaxDeliveryAttempts: 2,
	})
	require.NoError(t, err)
	dlq, err := b.CreateSubscription(ctx, "orders-dlq", "orders-dlq-sub", pubsub.SubscriptionConfig{})
	require.NoError(t, err)

	_, err = b.Publish(ctx, "orders", pubsub.OutboundMessage{Data: []byte("poison")})
	require.NoError(t, err)

	receiveOne(t, s).Nack(0)
	receiveOne(t, s).Nack(0)

	dead := receiveOne(t, dlq)
	assert.Equal(t, "poison", string(dead.Data))
	assert.Zero(t, b.Pending("orders-sub"))
}

func TestRedeliveryIntoFullQueueIsLogged(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	b := New(WithQueueSize(1), WithRequeueTimeout(20*time.Millisecond), WithLogger(pubsub.NewZapLogger(zap.New(core))))
	require.NoError(t, b.CreateTopic(ctx, "orders"))
	s, err := b.CreateSubscription(ctx, "orders", "orders-sub", pubsub.SubscriptionConfig{})
	require.NoError(t, err)

	_, err = b.Publish(ctx, "orders", pubsub.OutboundMessage{Data: []byte("1")})
	require.NoError(t, err)
	first := receiveOne(t, s)
	_, err = b.Publish(ctx, "orders", pubsub.OutboundMessage{Data: []byte("2")})
	require.NoError(t, err)

	first.Nack(0)
	require.NoError(t, b.Close(ctx))

	assert.Equal(t, int64(1), b.Lost("orders-sub"))
	assert.Equal(t, 1, b.Pending("orders-sub"))
	entries := logs.FilterMessage("inmem: redelivery dropped, subscription queue full").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, first.ID, entries[0].ContextMap()["message"])
}

func TestDeadLetterPublishFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	b := New(WithLogger(pubsub.NewZapLogger(zap.New(core))))
	require.NoError(t, b.CreateTopic(ctx, "orders"))
	s, err := b.CreateSubscription(ctx, "orders", "orders-sub", pubsub.SubscriptionConfig{
		DeadLetterTopic:     "orders-dlq",
		MaxDeliveryAttempts: 1,
	})
	require.NoError(t, err)
	_, err = b.Publish(ctx, "orders", pubsub.OutboundMessage{Data: []byte("poison")})
	require.NoError(t, err)

	receiveOne(t, s).Nack(0)

	assert.Equal(t, int64(1), b.Lost("orders-sub"))
	entries := logs.FilterMessage("inmem: dead letter publish failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "orders-dlq", entries[0].ContextMap()["dead_letter_topic"])
}

func TestClosedBrokerRejectsCalls(t *testing.T) {
	ctx := context.Background()
	b := New(WithQueueSize(1))
	require.NoError(t, b.CreateTopic(ctx, "orders"))
	require.NoError(t, b.Close(ctx))

	assert.Error(t, b.CreateTopic(ctx, "other"))
	_, err := b.Publish(ctx, "orders", pubsub.OutboundMessage{})
	assert.Error(t, err)
}
