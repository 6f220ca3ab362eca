package pubsub

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/infigaming-com/cloudpubsub-transport/errors"
	"github.com/infigaming-com/cloudpubsub-transport/pubsub/internal/backoff"
)

// Publisher sends envelopes that a Server on the other side can dispatch.
type Publisher struct {
	broker Broker
	opts   publishOptions
}

func NewPublisher(broker Broker, opts ...PublishOption) (*Publisher, error) {
	if broker == nil {
		return nil, configurationError("broker required")
	}
	o := defaultPublishOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}
	return &Publisher{broker: broker, opts: o}, nil
}

// Publish encodes {pattern, data} and publishes it to topic, retrying
// transient broker errors. Per-call options override the publisher's.
func (p *Publisher) Publish(ctx context.Context, topic, pattern string, data map[string]any, opts ...PublishOption) (string, error) {
	if topic == "" {
		return "", errors.New("pubsub: topic required")
	}
	po := p.opts
	po.attributes = cloneMap(p.opts.attributes)
	for _, opt := range opts {
		opt(&po)
	}
	body, err := EncodeEnvelope(pattern, data)
	if err != nil {
		return "", err
	}
	msg := OutboundMessage{Data: body, Attributes: po.attributes, OrderingKey: po.orderingKey}

	policy := po.retryPolicy
	bo := backoff.New(backoff.Config{Initial: policy.InitialBackoff, Max: policy.MaxBackoff, Multiplier: policy.Multiplier, Jitter: policy.Jitter})
	var attempt int
	for {
		attempt++
		id, err := p.broker.Publish(ctx, topic, msg)
		if err == nil {
			po.logger.Debug(ctx, "message published", "topic", topic, "pattern", pattern, "message", id)
			return id, nil
		}
		if isPermanent(err) || attempt >= policy.MaxAttempts {
			po.logger.Error(ctx, "publish failed", "topic", topic, "pattern", pattern, "attempts", attempt, "err", err)
			return "", err
		}
		delay := bo.Next()
		po.logger.Warn(ctx, "publish retry", "topic", topic, "pattern", pattern, "attempt", attempt, "delay", delay.String(), "err", err)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return true
	}
	return false
}
