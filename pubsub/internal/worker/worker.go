// Package worker runs submitted jobs on a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("worker: pool closed")

// PanicHandler receives the recovered value of a job that panicked.
type PanicHandler func(recovered any)

type Pool struct {
	jobs    chan func()
	onPanic PanicHandler

	once   sync.Once
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New starts size workers reading from a queue of the given depth.
func New(size int, queue int, onPanic PanicHandler) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		jobs:    make(chan func(), queue),
		onPanic: onPanic,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for fn := range p.jobs {
		p.exec(fn)
	}
}

func (p *Pool) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if p.onPanic != nil {
				p.onPanic(r)
				return
			}
			panic(fmt.Sprintf("worker: unhandled panic: %v", r))
		}
	}()
	fn()
}

// Submit blocks until a worker accepts fn, ctx is done or the pool is closed.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.jobs <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Already queued jobs still run.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
