package google

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
)

// Config holds the client connection settings. They are forwarded as-is to
// the Cloud Pub/Sub client; Client, when set, is used instead and is not
// closed by the broker.
type Config struct {
	ProjectID       string
	CredentialsJSON []byte
	Endpoint        string
	UserAgent       string
	ClientOptions   []option.ClientOption
	Client          *gcppubsub.Client
	Logger          pubsub.Logger
	Receive         ReceiveSettings
}

// ReceiveSettings tune flow control of every subscription stream.
type ReceiveSettings struct {
	NumGoroutines          int
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
	MaxExtension           time.Duration
}

type Broker struct {
	client     *gcppubsub.Client
	ownsClient bool
	logger     pubsub.Logger
	receive    ReceiveSettings

	mu     sync.Mutex
	topics map[string]*gcppubsub.Topic

	// messages handed to the transport and not yet acked or nacked
	heldMu    sync.Mutex
	held      map[*gcppubsub.Message]string
	receivers sync.WaitGroup
}

func New(ctx context.Context, cfg Config) (*Broker, error) {
	var (
		client *gcppubsub.Client
		err    error
		owns   bool
	)

	if cfg.Client != nil {
		client = cfg.Client
	} else {
		if cfg.ProjectID == "" {
			return nil, errors.New("googlepubsub: project id required when client is not provided")
		}
		opts := make([]option.ClientOption, 0, 3+len(cfg.ClientOptions))
		if len(cfg.CredentialsJSON) > 0 {
			opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, option.WithUserAgent(cfg.UserAgent))
		}
		opts = append(opts, cfg.ClientOptions...)
		client, err = gcppubsub.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("googlepubsub: create client: %w", err)
		}
		owns = true
	}

	b := &Broker{
		client:     client,
		ownsClient: owns,
		logger:     cfg.Logger,
		receive:    cfg.Receive,
		topics:     map[string]*gcppubsub.Topic{},
		held:       map[*gcppubsub.Message]string{},
	}
	if b.logger == nil {
		b.logger = pubsub.NopLogger()
	}
	return b, nil
}

// Client exposes the underlying Cloud Pub/Sub client.
func (b *Broker) Client() *gcppubsub.Client { return b.client }

// CreateTopic returns the client error unchanged, so AlreadyExists keeps its gRPC code.
func (b *Broker) CreateTopic(ctx context.Context, name string) error {
	topic, err := b.client.CreateTopic(ctx, pubsub.TopicID(name))
	if err != nil {
		return err
	}
	topic.Stop()
	return nil
}

func (b *Broker) CreateSubscription(ctx context.Context, topic, name string, cfg pubsub.SubscriptionConfig) (pubsub.Stream, error) {
	if cfg.DeadLetterTopic != "" {
		cfg.DeadLetterTopic = b.topicPath(cfg.DeadLetterTopic)
	}
	sub, err := b.client.CreateSubscription(ctx, name, subscriptionConfig(b.client.Topic(pubsub.TopicID(topic)), cfg))
	if err != nil {
		return nil, err
	}
	return b.stream(sub), nil
}

// Subscription checks that name exists and returns a handle to it.
func (b *Broker) Subscription(ctx context.Context, name string) (pubsub.Stream, error) {
	sub := b.client.Subscription(name)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "googlepubsub: subscription %s not found", name)
	}
	return b.stream(sub), nil
}

func (b *Broker) Publish(ctx context.Context, topic string, msg pubsub.OutboundMessage) (string, error) {
	if topic == "" {
		return "", errors.New("googlepubsub: topic required")
	}
	gTopic := b.topic(pubsub.TopicID(topic), msg.OrderingKey != "")
	res := gTopic.Publish(ctx, &gcppubsub.Message{
		Data:        append([]byte(nil), msg.Data...),
		Attributes:  cloneMap(msg.Attributes),
		OrderingKey: msg.OrderingKey,
	})
	id, err := res.Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			gTopic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("googlepubsub: publish: %w", err)
	}
	return id, nil
}

// Outstanding is the number of delivered messages nobody has settled yet.
func (b *Broker) Outstanding() int {
	b.heldMu.Lock()
	defer b.heldMu.Unlock()
	return len(b.held)
}

// Close nacks messages still left unsettled, waits for the client's receive
// loops to end, flushes publishers and closes the client if the broker
// created it. Close the transport first so in-flight handlers settle their
// own messages.
func (b *Broker) Close(ctx context.Context) error {
	b.release(ctx)

	var waitErr error
	done := make(chan struct{})
	go func() {
		b.receivers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("googlepubsub: wait for receive loops: %w", ctx.Err())
		b.logger.Warn(ctx, "googlepubsub receive loops still running", "err", ctx.Err())
	}

	b.mu.Lock()
	for name, t := range b.topics {
		t.Stop()
		delete(b.topics, name)
	}
	b.mu.Unlock()
	if b.ownsClient {
		if err := b.client.Close(); err != nil {
			return err
		}
	}
	return waitErr
}

// hold tracks m until one of the returned settle funcs runs.
func (b *Broker) hold(m *gcppubsub.Message, subscription string) (ack func(), nack func()) {
	b.heldMu.Lock()
	b.held[m] = subscription
	b.heldMu.Unlock()
	settle := func(f func()) func() {
		return func() {
			b.heldMu.Lock()
			delete(b.held, m)
			b.heldMu.Unlock()
			f()
		}
	}
	return settle(m.Ack), settle(m.Nack)
}

// release nacks every held message so Cloud Pub/Sub redelivers it right away
// instead of after the lease runs out.
func (b *Broker) release(ctx context.Context) {
	b.heldMu.Lock()
	held := b.held
	b.held = map[*gcppubsub.Message]string{}
	b.heldMu.Unlock()
	for m, subscription := range held {
		b.logger.Info(ctx, "googlepubsub releasing unsettled message", "subscription", subscription, "message", m.ID)
		m.Nack()
	}
}

func (b *Broker) topic(id string, ordered bool) *gcppubsub.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[id]
	if !ok {
		t = b.client.Topic(id)
		// Ordering is fixed by the first publish to a topic.
		t.EnableMessageOrdering = ordered
		b.topics[id] = t
	}
	return t
}

func (b *Broker) topicPath(topic string) string {
	return fmt.Sprintf("projects/%s/topics/%s", b.client.Project(), pubsub.TopicID(topic))
}

func (b *Broker) stream(sub *gcppubsub.Subscription) *stream {
	settings := sub.ReceiveSettings
	if b.receive.NumGoroutines > 0 {
		settings.NumGoroutines = b.receive.NumGoroutines
	}
	if b.receive.MaxOutstandingMessages > 0 {
		settings.MaxOutstandingMessages = b.receive.MaxOutstandingMessages
	}
	if b.receive.MaxOutstandingBytes > 0 {
		settings.MaxOutstandingBytes = b.receive.MaxOutstandingBytes
	}
	if b.receive.MaxExtension > 0 {
		settings.MaxExtension = b.receive.MaxExtension
	}
	sub.ReceiveSettings = settings
	return &stream{sub: sub, broker: b, logger: b.logger}
}

func subscriptionConfig(topic *gcppubsub.Topic, cfg pubsub.SubscriptionConfig) gcppubsub.SubscriptionConfig {
	out := gcppubsub.SubscriptionConfig{
		Topic:                     topic,
		AckDeadline:               cfg.AckDeadline,
		RetainAckedMessages:       cfg.RetainAckedMessages,
		RetentionDuration:         cfg.RetentionDuration,
		EnableMessageOrdering:     cfg.EnableMessageOrdering,
		EnableExactlyOnceDelivery: cfg.EnableExactlyOnceDelivery,
		Filter:                    cfg.Filter,
		Labels:                    cfg.Labels,
	}
	if cfg.DeadLetterTopic != "" {
		out.DeadLetterPolicy = &gcppubsub.DeadLetterPolicy{
			DeadLetterTopic:     cfg.DeadLetterTopic,
			MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
		}
	}
	if cfg.MinRetryBackoff > 0 || cfg.MaxRetryBackoff > 0 {
		rp := &gcppubsub.RetryPolicy{}
		if cfg.MinRetryBackoff > 0 {
			rp.MinimumBackoff = cfg.MinRetryBackoff
		}
		if cfg.MaxRetryBackoff > 0 {
			rp.MaximumBackoff = cfg.MaxRetryBackoff
		}
		out.RetryPolicy = rp
	}
	return out
}

type stream struct {
	sub    *gcppubsub.Subscription
	broker *Broker
	logger pubsub.Logger
}

func (s *stream) Name() string { return s.sub.ID() }

// Subscription exposes the client handle, e.g. to inspect ReceiveSettings.
func (s *stream) Subscription() *gcppubsub.Subscription { return s.sub }

func (s *stream) Topic(ctx context.Context) (string, error) {
	cfg, err := s.sub.Config(ctx)
	if err != nil {
		return "", err
	}
	if cfg.Topic == nil {
		return pubsub.DeletedTopic, nil
	}
	return cfg.Topic.ID(), nil
}

// Receive blocks until ctx is done. Nack delays are not supported by Cloud
// Pub/Sub; redelivery timing follows the subscription retry policy.
//
// The client only returns from its own Receive once every delivered message
// is settled, so after ctx is done Receive returns without waiting for it and
// Broker.Close releases whatever stays unsettled.
func (s *stream) Receive(ctx context.Context, deliver func(context.Context, *pubsub.RawMessage)) error {
	errc := make(chan error, 1)
	s.broker.receivers.Add(1)
	go func() {
		defer s.broker.receivers.Done()
		errc <- s.sub.Receive(ctx, func(msgCtx context.Context, m *gcppubsub.Message) {
			ack, nack := s.broker.hold(m, s.sub.ID())
			raw := &pubsub.RawMessage{
				ID:          m.ID,
				Data:        m.Data,
				Attributes:  cloneMap(m.Attributes),
				OrderingKey: m.OrderingKey,
				PublishTime: m.PublishTime,
				Ack:         ack,
				Nack:        func(time.Duration) { nack() },
			}
			if m.DeliveryAttempt != nil {
				raw.DeliveryAttempt = *m.DeliveryAttempt
			}
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error(msgCtx, "googlepubsub deliver panic", "subscription", s.sub.ID(), "panic", r)
					nack()
				}
			}()
			deliver(msgCtx, raw)
		})
	}()

	select {
	case err := <-errc:
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
