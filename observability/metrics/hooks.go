package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
)

const (
	attrSubscription = attribute.Key("messaging.subscription")
	attrPattern      = attribute.Key("messaging.pattern")
	attrOutcome      = attribute.Key("outcome")
)

// NewPubSubHooks returns server hooks that record delivery counters and
// handler latency on meter.
func NewPubSubHooks(meter metric.Meter) (pubsub.Hooks, error) {
	received, err := meter.Int64Counter("pubsub.messages.received",
		metric.WithDescription("Messages pulled from a subscription"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create counter: %w", err)
	}
	settled, err := meter.Int64Counter("pubsub.messages.settled",
		metric.WithDescription("Messages acked or nacked"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create counter: %w", err)
	}
	dropped, err := meter.Int64Counter("pubsub.messages.dropped",
		metric.WithDescription("Messages that could not be dispatched"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create counter: %w", err)
	}
	handled, err := meter.Float64Histogram("pubsub.handler.duration",
		metric.WithDescription("Handler run time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create histogram: %w", err)
	}
	failures, err := meter.Int64Counter("pubsub.handler.failures",
		metric.WithDescription("Handler errors and panics"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create counter: %w", err)
	}
	mismatches, err := meter.Int64Counter("pubsub.subscription.topic_mismatch",
		metric.WithDescription("Existing subscriptions bound to an unexpected topic"),
	)
	if err != nil {
		return pubsub.Hooks{}, fmt.Errorf("failed to create counter: %w", err)
	}

	sub := func(name string) metric.MeasurementOption {
		return metric.WithAttributes(attrSubscription.String(name))
	}
	drop := func(ctx context.Context, name, reason string) {
		dropped.Add(ctx, 1, metric.WithAttributes(attrSubscription.String(name), attrOutcome.String(reason)))
	}

	return pubsub.Hooks{
		OnReceive: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata) {
			received.Add(ctx, 1, sub(subscription))
		},
		OnAck: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata) {
			settled.Add(ctx, 1, metric.WithAttributes(attrSubscription.String(subscription), attrOutcome.String("ack")))
		},
		OnNack: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata) {
			settled.Add(ctx, 1, metric.WithAttributes(attrSubscription.String(subscription), attrOutcome.String("nack")))
		},
		OnInvalid: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata, _ error) {
			drop(ctx, subscription, "invalid")
		},
		OnUnknownPattern: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata, _ string) {
			drop(ctx, subscription, "unknown_pattern")
		},
		OnDuplicate: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata) {
			drop(ctx, subscription, "duplicate")
		},
		OnHandled: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata, pattern string, took time.Duration) {
			handled.Record(ctx, took.Seconds(), metric.WithAttributes(attrSubscription.String(subscription), attrPattern.String(pattern)))
		},
		OnHandlerFailure: func(ctx context.Context, subscription string, _ pubsub.MessageMetadata, pattern string, _ error) {
			failures.Add(ctx, 1, metric.WithAttributes(attrSubscription.String(subscription), attrPattern.String(pattern)))
		},
		OnTopicMismatch: func(ctx context.Context, subscription, _, _ string) {
			mismatches.Add(ctx, 1, sub(subscription))
		},
	}, nil
}
