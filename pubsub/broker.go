package pubsub

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Broker is the wire-level client of the managed pub/sub service.
// Implementations must be safe for concurrent use and must report
// "resource already exists" with gRPC code AlreadyExists.
type Broker interface {
	CreateTopic(ctx context.Context, name string) error
	CreateSubscription(ctx context.Context, topic, name string, cfg SubscriptionConfig) (Stream, error)
	// Subscription returns a reference to an existing subscription without creating it.
	Subscription(ctx context.Context, name string) (Stream, error)
	Publish(ctx context.Context, topic string, msg OutboundMessage) (string, error)
	Close(ctx context.Context) error
}

// Stream is a subscription handle able to pull messages.
type Stream interface {
	Name() string
	// Topic reads the subscription metadata and returns the ID of the topic it is bound to.
	Topic(ctx context.Context) (string, error)
	// Receive calls deliver for every message until ctx is done or a
	// non-retryable error occurs. deliver may be called concurrently.
	Receive(ctx context.Context, deliver func(context.Context, *RawMessage)) error
}

// RawMessage is a message as delivered by a Stream. Ack and Nack are owned by
// the broker; the transport calls at most one of them, at most once.
type RawMessage struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	OrderingKey     string
	PublishTime     time.Time
	DeliveryAttempt int
	Ack             func()
	Nack            func(delay time.Duration)
}

type OutboundMessage struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// SubscriptionConfig holds creation options forwarded to the broker.
type SubscriptionConfig struct {
	AckDeadline               time.Duration
	RetainAckedMessages       bool
	RetentionDuration         time.Duration
	EnableMessageOrdering     bool
	EnableExactlyOnceDelivery bool
	Filter                    string
	Labels                    map[string]string
	DeadLetterTopic           string
	MaxDeliveryAttempts       int
	MinRetryBackoff           time.Duration
	MaxRetryBackoff           time.Duration
}

// DeletedTopic is the topic a subscription reports once its topic has been deleted.
const DeletedTopic = "_deleted-topic_"

func IsAlreadyExists(err error) bool {
	return err != nil && status.Code(err) == codes.AlreadyExists
}

func IsNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}

// TopicID reduces "projects/<p>/topics/<id>" to "<id>"; other values are returned unchanged.
func TopicID(topic string) string {
	if i := strings.LastIndex(topic, "/topics/"); i >= 0 {
		return topic[i+len("/topics/"):]
	}
	return topic
}
