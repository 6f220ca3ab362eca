package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/infigaming-com/cloudpubsub-transport/errors"
	"github.com/infigaming-com/cloudpubsub-transport/pubsub/internal/backoff"
	"github.com/infigaming-com/cloudpubsub-transport/pubsub/internal/worker"
)

// Binding is an open subscription stream feeding the server's dispatcher.
type Binding struct {
	name   string
	topic  string
	stream Stream
	server *Server

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan *RawMessage
	pool   *worker.Pool
	done   chan struct{}

	delivered atomic.Int64

	mu  sync.Mutex
	err error
}

func newBinding(s *Server, name, topic string, stream Stream) *Binding {
	ctx, cancel := context.WithCancel(s.ctx)
	b := &Binding{
		name:   name,
		topic:  topic,
		stream: stream,
		server: s,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *RawMessage, s.opts.buffer),
		done:   make(chan struct{}),
	}
	b.pool = worker.New(s.opts.concurrency, 0, func(r any) {
		s.logger.Error(ctx, "dispatch panic", "subscription", name, "panic", r)
	})
	return b
}

// Name is the subscription name.
func (b *Binding) Name() string { return b.name }

// Topic is the topic the subscription is bound to as far as the transport knows.
func (b *Binding) Topic() string { return b.topic }

// Stream exposes the broker handle, e.g. to read driver specific settings.
func (b *Binding) Stream() Stream { return b.stream }

// Done is closed once the binding stopped receiving and drained its handlers.
func (b *Binding) Done() <-chan struct{} { return b.done }

// Err returns the terminal receive error, if any, once Done is closed.
func (b *Binding) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Binding) start() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.receive()
	}()
	go func() {
		b.consume()
		wg.Wait()
		close(b.done)
	}()
}

// receive keeps the stream open until the binding is closed, restarting it
// with backoff after failures.
func (b *Binding) receive() {
	defer close(b.queue)
	policy := b.server.opts.receiveRetry
	bo := backoff.New(backoff.Config{Initial: policy.InitialBackoff, Max: policy.MaxBackoff, Multiplier: policy.Multiplier, Jitter: policy.Jitter})
	logger := b.server.logger
	for {
		before := b.delivered.Load()
		err := b.stream.Receive(b.ctx, b.enqueue)
		if b.ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("stream ended")
		}
		// only consecutive failures without a delivery count
		if b.delivered.Load() != before {
			bo.Reset()
		}
		if attempts := bo.Attempts() + 1; attempts >= policy.MaxAttempts {
			logger.Error(b.ctx, "subscription receive stopped", "subscription", b.name, "attempts", attempts, "err", err)
			b.mu.Lock()
			b.err = receiveFailure(b.name, err)
			b.mu.Unlock()
			return
		}
		delay := bo.Next()
		logger.Warn(b.ctx, "subscription reconnect", "subscription", b.name, "delay", delay.String(), "err", err)
		if backoff.Sleep(b.ctx, delay) != nil {
			return
		}
	}
}

func (b *Binding) enqueue(ctx context.Context, raw *RawMessage) {
	if raw == nil {
		return
	}
	b.delivered.Add(1)
	select {
	case b.queue <- raw:
	case <-ctx.Done():
		b.release(raw)
	case <-b.ctx.Done():
		b.release(raw)
	}
}

// release hands a message that was never dispatched back to the broker.
func (b *Binding) release(raw *RawMessage) {
	if raw.Nack != nil {
		raw.Nack(0)
	}
}

// consume is the only reader of the queue; every message gets its own dispatch.
func (b *Binding) consume() {
	defer func() {
		b.pool.Close()
		b.pool.Wait()
	}()
	dispatchCtx := context.WithoutCancel(b.ctx)
	for raw := range b.queue {
		msg := raw
		err := b.pool.Submit(context.Background(), func() {
			_, _ = b.server.HandleMessage(dispatchCtx, msg, b.name)
		})
		if err != nil {
			b.server.logger.Error(b.ctx, "failed to submit message", "subscription", b.name, "message", msg.ID, "err", err)
			b.release(msg)
		}
	}
}

// Close stops receiving and waits for in-flight handlers. It returns the
// terminal receive error, or ctx.Err() if ctx ends first. Close is idempotent.
func (b *Binding) Close(ctx context.Context) error {
	b.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return b.Err()
	}
}

// bindings is an append-only arena of every binding opened by a server.
type bindings struct {
	mu    sync.Mutex
	items []*Binding
}

func (a *bindings) add(b *Binding) {
	a.mu.Lock()
	a.items = append(a.items, b)
	a.mu.Unlock()
}

func (a *bindings) snapshot() []*Binding {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Binding, len(a.items))
	copy(out, a.items)
	return out
}
