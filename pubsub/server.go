package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Server receives messages from broker subscriptions and dispatches them to
// the handlers of a HandlerRegistry.
type Server struct {
	broker   Broker
	registry HandlerRegistry
	opts     options
	logger   Logger
	hooks    Hooks
	ctx      context.Context
	cancel   context.CancelFunc

	bindings bindings
	mu       sync.RWMutex
	closed   bool
	ready    atomic.Bool
}

// New validates the options and builds a Server. It performs no broker call.
func New(broker Broker, registry HandlerRegistry, opts ...Option) (*Server, error) {
	if broker == nil {
		return nil, configurationError("broker required")
	}
	if registry == nil {
		return nil, configurationError("handler registry required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaultSubscription != "" && o.defaultTopic == "" {
		return nil, configurationError("default subscription name provided without a topic")
	}

	var logger Logger
	switch {
	case !o.enableLogger:
		logger = noopLogger{}
	case o.logger != nil:
		logger = o.logger
	default:
		logger = NewZapLogger(zap.L())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		broker:   broker,
		registry: registry,
		opts:     o,
		logger:   logger,
		hooks:    o.hooks,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Listen ensures the default topic and subscription, if configured, then
// calls onReady. Provisioning failures are logged and do not prevent onReady.
func (s *Server) Listen(ctx context.Context, onReady func()) {
	if topic := s.opts.defaultTopic; topic != "" {
		if err := s.CreateTopic(ctx, topic); err != nil {
			s.logger.Error(ctx, fmt.Sprintf("Could not create the default topic %s: %v", topic, err), "topic", topic, "err", err)
		}
		if name := s.opts.defaultSubscription; name != "" {
			cfg := s.opts.defaultSubConfig
			if _, err := s.CreateSubscription(ctx, topic, name, &cfg); err != nil {
				s.logger.Error(ctx, fmt.Sprintf("Could not create the default subscription %s: %v", name, err), "subscription", name, "err", err)
			}
		}
	}
	s.ready.Store(true)
	if onReady != nil {
		onReady()
	}
}

// CreateTopic creates topic name. An already existing topic is not an error.
func (s *Server) CreateTopic(ctx context.Context, name string) error {
	s.logger.Info(ctx, fmt.Sprintf("Creating topic %s...", name))
	err := s.broker.CreateTopic(ctx, name)
	if err == nil || IsAlreadyExists(err) {
		return nil
	}
	return err
}

// CreateSubscription creates subscription name on topic and starts
// dispatching its messages. When the subscription already exists it is
// reused; if it is bound to another topic (typically one deleted and
// recreated under the same name) a warning is logged and nothing is rebound.
func (s *Server) CreateSubscription(ctx context.Context, topic, name string, cfg *SubscriptionConfig) (*Binding, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, fmt.Sprintf("Creating subscription %s to topic %s...", name, topic))
	var conf SubscriptionConfig
	if cfg != nil {
		conf = *cfg
	}

	expected := TopicID(topic)
	stream, err := s.broker.CreateSubscription(ctx, topic, name, conf)
	if err == nil {
		return s.bind(name, expected, stream)
	}
	if !IsAlreadyExists(err) {
		return nil, err
	}

	stream, err = s.broker.Subscription(ctx, name)
	if err != nil {
		return nil, err
	}
	actual, err := stream.Topic(ctx)
	if err != nil {
		return nil, err
	}
	actual = TopicID(actual)
	if actual != expected {
		s.logger.Warn(ctx, fmt.Sprintf("Subscription %s is bound to topic %s", name, actual),
			"subscription", name, "expected_topic", expected, "actual_topic", actual)
		if s.hooks.OnTopicMismatch != nil {
			s.hooks.OnTopicMismatch(ctx, name, expected, actual)
		}
	}
	return s.bind(name, actual, stream)
}

// AttachSubscription starts dispatching an existing subscription without
// trying to create it.
func (s *Server) AttachSubscription(ctx context.Context, name string) (*Binding, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, fmt.Sprintf("Attaching subscription %s...", name))
	stream, err := s.broker.Subscription(ctx, name)
	if err != nil {
		s.logger.Error(ctx, fmt.Sprintf("Could not attach subscription %s: %v", name, err), "subscription", name, "err", err)
		return nil, err
	}
	topic, err := stream.Topic(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not read subscription topic", "subscription", name, "err", err)
	}
	return s.bind(name, TopicID(topic), stream)
}

func (s *Server) bind(name, topic string, stream Stream) (*Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	b := newBinding(s, name, topic, stream)
	s.bindings.add(b)
	b.start()
	return b, nil
}

// Close closes every binding concurrently and waits for all of them. The
// returned error aggregates every individual failure.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info(ctx, "Closing connection...")
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ready.Store(false)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, b := range s.bindings.snapshot() {
		wg.Add(1)
		go func(b *Binding) {
			defer wg.Done()
			if err := b.Close(ctx); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("close subscription %s: %w", b.Name(), err))
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()
	s.cancel()
	return result.ErrorOrNil()
}

func (s *Server) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Ready reports whether Listen completed and Close has not been called.
func (s *Server) Ready() bool { return s.ready.Load() }

func (s *Server) Subscriptions() []string {
	return lo.Map(s.bindings.snapshot(), func(b *Binding, _ int) string { return b.Name() })
}

// Patterns lists the routed patterns when the registry can enumerate them.
func (s *Server) Patterns() []string {
	if lister, ok := s.registry.(interface{ Patterns() []string }); ok {
		return lister.Patterns()
	}
	return nil
}
