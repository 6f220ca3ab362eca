package pubsub

import (
	"time"
)

type Option func(*options)

type PublishOption func(*publishOptions)

type options struct {
	logger              Logger
	enableLogger        bool
	hooks               Hooks
	defaultTopic        string
	defaultSubscription string
	defaultSubConfig    SubscriptionConfig
	ackAfterHandler     bool
	nackDelay           time.Duration
	concurrency         int
	buffer              int
	receiveRetry        RetryPolicy
	dedupe              DedupeStore
	dedupeTTL           time.Duration
}

type publishOptions struct {
	logger      Logger
	orderingKey string
	attributes  map[string]string
	retryPolicy RetryPolicy
}

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

func defaultOptions() options {
	return options{
		enableLogger: true,
		concurrency:  10,
		buffer:       100,
		receiveRetry: defaultRetryPolicy(),
		dedupeTTL:    10 * time.Minute,
	}
}

func defaultPublishOptions() publishOptions {
	return publishOptions{
		attributes:  map[string]string{},
		retryPolicy: defaultRetryPolicy(),
	}
}

// WithLogger overrides the default zap-backed logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEnableLogger(false) silences the transport entirely, custom logger included.
func WithEnableLogger(enabled bool) Option {
	return func(o *options) {
		o.enableLogger = enabled
	}
}

func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// WithDefaultTopic names a topic ensured by Listen.
func WithDefaultTopic(name string) Option {
	return func(o *options) {
		o.defaultTopic = name
	}
}

// WithDefaultSubscription names a subscription to the default topic ensured by Listen.
// It requires WithDefaultTopic.
func WithDefaultSubscription(name string) Option {
	return func(o *options) {
		o.defaultSubscription = name
	}
}

func WithDefaultSubscriptionConfig(cfg SubscriptionConfig) Option {
	return func(o *options) {
		o.defaultSubConfig = cfg
	}
}

// WithAckAfterHandler acks messages only once their handler succeeded and
// nacks them when it fails. By default messages are acked on receipt.
func WithAckAfterHandler(enabled bool) Option {
	return func(o *options) {
		o.ackAfterHandler = enabled
	}
}

// WithNackDelay asks the broker to wait d before redelivering a failed
// message. Brokers without per-message delays ignore it.
func WithNackDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.nackDelay = d
		}
	}
}

// WithConcurrency bounds the number of messages handled at once per subscription.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.buffer = n
		}
	}
}

// WithReceiveRetry controls how often a failing receive loop is restarted.
func WithReceiveRetry(policy RetryPolicy) Option {
	return func(o *options) {
		o.receiveRetry = policy.normalized()
	}
}

// WithDeduplication acks and skips messages whose id was already handled
// successfully on the same subscription within ttl.
func WithDeduplication(store DedupeStore, ttl time.Duration) Option {
	return func(o *options) {
		o.dedupe = store
		if ttl > 0 {
			o.dedupeTTL = ttl
		}
	}
}

func WithPublisherLogger(logger Logger) PublishOption {
	return func(o *publishOptions) {
		o.logger = logger
	}
}

func WithOrderingKey(key string) PublishOption {
	return func(o *publishOptions) {
		o.orderingKey = key
	}
}

func WithAttributes(attrs map[string]string) PublishOption {
	return func(o *publishOptions) {
		if len(attrs) == 0 {
			return
		}
		if o.attributes == nil {
			o.attributes = map[string]string{}
		}
		for k, v := range attrs {
			o.attributes[k] = v
		}
	}
}

func WithPublishRetry(policy RetryPolicy) PublishOption {
	return func(o *publishOptions) {
		o.retryPolicy = policy.normalized()
	}
}

func (r RetryPolicy) normalized() RetryPolicy {
	if r.Multiplier <= 0 {
		r.Multiplier = 2
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = 200 * time.Millisecond
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 30 * time.Second
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	return r
}
