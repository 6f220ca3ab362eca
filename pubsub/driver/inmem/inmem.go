// Package inmem is a process-local pubsub.Broker. Topics fan out to their
// subscriptions; nacked messages are redelivered after the requested delay.
package inmem

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
)

const (
	defaultQueueSize       = 1024
	defaultRequeueTimeout  = 5 * time.Second
	deadLetterPublishLimit = time.Second
)

type Broker struct {
	mu             sync.RWMutex
	topics         map[string]struct{}
	subs           map[string]*subscription
	queueSize      int
	requeueTimeout time.Duration
	logger         pubsub.Logger
	closed         bool
}

type subscription struct {
	name   string
	topic  atomic.Value // string
	cfg    pubsub.SubscriptionConfig
	msgs   chan *delivery
	acked  atomic.Int64
	nacked atomic.Int64
	lost   atomic.Int64
	wg     sync.WaitGroup // pending redeliveries
}

type delivery struct {
	id          string
	data        []byte
	attributes  map[string]string
	orderingKey string
	publishTime time.Time
	attempt     int
}

type Option func(*Broker)

// WithQueueSize bounds the number of undelivered messages per subscription.
func WithQueueSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithRequeueTimeout bounds how long a nacked message waits for room in a
// full subscription queue before it is dropped.
func WithRequeueTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.requeueTimeout = d
		}
	}
}

// WithLogger reports dropped redeliveries and dead letter failures.
func WithLogger(logger pubsub.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func New(opts ...Option) *Broker {
	b := &Broker{
		topics:         map[string]struct{}{},
		subs:           map[string]*subscription{},
		queueSize:      defaultQueueSize,
		requeueTimeout: defaultRequeueTimeout,
		logger:         pubsub.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) CreateTopic(_ context.Context, name string) error {
	if name == "" {
		return status.Error(codes.InvalidArgument, "inmem: topic name required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return status.Error(codes.Unavailable, "inmem: broker closed")
	}
	if _, ok := b.topics[name]; ok {
		return status.Errorf(codes.AlreadyExists, "inmem: topic %s already exists", name)
	}
	b.topics[name] = struct{}{}
	return nil
}

// DeleteTopic removes a topic. Its subscriptions survive but stay bound to
// pubsub.DeletedTopic, even if a topic with the same name is created again.
func (b *Broker) DeleteTopic(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; !ok {
		return status.Errorf(codes.NotFound, "inmem: topic %s not found", name)
	}
	delete(b.topics, name)
	for _, sub := range b.subs {
		if sub.boundTopic() == name {
			sub.topic.Store(pubsub.DeletedTopic)
		}
	}
	return nil
}

func (b *Broker) CreateSubscription(_ context.Context, topic, name string, cfg pubsub.SubscriptionConfig) (pubsub.Stream, error) {
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "inmem: subscription name required")
	}
	topic = pubsub.TopicID(topic)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, status.Error(codes.Unavailable, "inmem: broker closed")
	}
	if _, ok := b.subs[name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "inmem: subscription %s already exists", name)
	}
	if _, ok := b.topics[topic]; !ok {
		return nil, status.Errorf(codes.NotFound, "inmem: topic %s not found", topic)
	}
	sub := &subscription{name: name, cfg: cfg, msgs: make(chan *delivery, b.queueSize)}
	sub.topic.Store(topic)
	b.subs[name] = sub
	return &stream{broker: b, sub: sub}, nil
}

func (b *Broker) Subscription(_ context.Context, name string) (pubsub.Stream, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "inmem: subscription %s not found", name)
	}
	return &stream{broker: b, sub: sub}, nil
}

func (b *Broker) Publish(ctx context.Context, topic string, msg pubsub.OutboundMessage) (string, error) {
	topic = pubsub.TopicID(topic)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", status.Error(codes.Unavailable, "inmem: broker closed")
	}
	if _, ok := b.topics[topic]; !ok {
		return "", status.Errorf(codes.NotFound, "inmem: topic %s not found", topic)
	}
	d := &delivery{
		id:          uuid.NewString(),
		data:        append([]byte(nil), msg.Data...),
		attributes:  clone(msg.Attributes),
		orderingKey: msg.OrderingKey,
		publishTime: time.Now(),
	}
	for _, sub := range b.subs {
		if sub.boundTopic() != topic {
			continue
		}
		cp := *d
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case sub.msgs <- &cp:
		}
	}
	return d.id, nil
}

// Close rejects further calls and waits for scheduled redeliveries.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, sub := range subs {
			sub.wg.Wait()
		}
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Acked and Nacked count settlements on subscription name.
func (b *Broker) Acked(name string) int64 {
	if sub := b.lookup(name); sub != nil {
		return sub.acked.Load()
	}
	return 0
}

func (b *Broker) Nacked(name string) int64 {
	if sub := b.lookup(name); sub != nil {
		return sub.nacked.Load()
	}
	return 0
}

// Lost counts messages on subscription name that were dropped instead of
// being redelivered or dead lettered.
func (b *Broker) Lost(name string) int64 {
	if sub := b.lookup(name); sub != nil {
		return sub.lost.Load()
	}
	return 0
}

// Pending is the number of messages waiting to be received on subscription name.
func (b *Broker) Pending(name string) int {
	if sub := b.lookup(name); sub != nil {
		return len(sub.msgs)
	}
	return 0
}

func (b *Broker) lookup(name string) *subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subs[name]
}

func (s *subscription) boundTopic() string {
	topic, _ := s.topic.Load().(string)
	return topic
}

type stream struct {
	broker *Broker
	sub    *subscription
}

func (s *stream) Name() string { return s.sub.name }

func (s *stream) Topic(context.Context) (string, error) {
	return s.sub.boundTopic(), nil
}

// Receive delivers messages one at a time until ctx is done.
func (s *stream) Receive(ctx context.Context, deliver func(context.Context, *pubsub.RawMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-s.sub.msgs:
			deliver(ctx, s.raw(d))
		}
	}
}

func (s *stream) raw(d *delivery) *pubsub.RawMessage {
	var once sync.Once
	attempt := d.attempt + 1
	return &pubsub.RawMessage{
		ID:              d.id,
		Data:            append([]byte(nil), d.data...),
		Attributes:      clone(d.attributes),
		OrderingKey:     d.orderingKey,
		PublishTime:     d.publishTime,
		DeliveryAttempt: attempt,
		Ack: func() {
			once.Do(func() { s.sub.acked.Add(1) })
		},
		Nack: func(delay time.Duration) {
			once.Do(func() {
				s.sub.nacked.Add(1)
				s.redeliver(d, attempt, delay)
			})
		},
	}
}

// redeliver queues d again after delay. Once MaxDeliveryAttempts is reached
// the message goes to the dead letter topic, if any, instead.
func (s *stream) redeliver(d *delivery, attempt int, delay time.Duration) {
	if limit := s.sub.cfg.MaxDeliveryAttempts; limit > 0 && attempt >= limit {
		if topic := s.sub.cfg.DeadLetterTopic; topic != "" {
			s.deadLetter(d, topic, attempt)
		}
		return
	}
	next := *d
	next.attempt = attempt
	s.sub.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer s.sub.wg.Done()
		timer := time.NewTimer(s.broker.requeueTimeout)
		defer timer.Stop()
		select {
		case s.sub.msgs <- &next:
		case <-timer.C:
			s.sub.lost.Add(1)
			s.broker.logger.Warn(context.Background(), "inmem: redelivery dropped, subscription queue full",
				"subscription", s.sub.name, "message", d.id, "attempt", attempt)
		}
	})
}

func (s *stream) deadLetter(d *delivery, topic string, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), deadLetterPublishLimit)
	defer cancel()
	_, err := s.broker.Publish(ctx, topic, pubsub.OutboundMessage{
		Data:        d.data,
		Attributes:  clone(d.attributes),
		OrderingKey: d.orderingKey,
	})
	if err != nil {
		s.sub.lost.Add(1)
		s.broker.logger.Error(ctx, "inmem: dead letter publish failed",
			"subscription", s.sub.name, "message", d.id, "attempt", attempt, "dead_letter_topic", topic, "err", err)
	}
}

func clone(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
