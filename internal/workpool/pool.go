// Package workpool runs blocking image work on a fixed set of goroutines so
// request handlers only wait for results.
package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("worker pool is closed")

type task struct {
	ctx context.Context
	run func(context.Context)
}

// Pool is a fixed-size worker pool. When every worker is busy, submitted
// tasks wait in a bounded queue; when the queue is full, Submit blocks until
// space frees up or the caller's context ends.
type Pool struct {
	workers int
	tasks   chan task
	quit    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	active    atomic.Int64
	completed atomic.Uint64
	abandoned atomic.Uint64
	skipped   atomic.Uint64
}

type Stats struct {
	Workers   int
	Queued    int
	Active    int
	Completed uint64
	Abandoned uint64
	Skipped   uint64
}

func New(workers, queueSize int) *Pool {
	workers = max(1, workers)
	queueSize = max(0, queueSize)

	p := &Pool{
		workers: workers,
		tasks:   make(chan task, queueSize),
		quit:    make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.tasks:
			p.execute(t)
		}
	}
}

func (p *Pool) execute(t task) {
	if t.ctx.Err() != nil {
		p.skipped.Add(1)
	}
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
	}()
	t.run(t.ctx)
}

// Submit queues fn. fn always runs exactly once, possibly with an already
// cancelled context, unless Submit returns an error.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.tasks <- task{ctx: ctx, run: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type result[T any] struct {
	value T
	err   error
}

// Do runs fn on the pool and waits for its result or for ctx to end. On
// expiry the caller gets ctx.Err(); the worker finishes fn on its own and the
// result is dropped.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	// Buffered so an abandoned task never blocks its worker.
	results := make(chan result[T], 1)

	err := p.Submit(ctx, func(taskCtx context.Context) {
		if err := taskCtx.Err(); err != nil {
			results <- result[T]{err: err}
			return
		}
		v, err := fn(taskCtx)
		results <- result[T]{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-results:
		return r.value, r.err
	case <-ctx.Done():
		p.abandoned.Add(1)
		return zero, ctx.Err()
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.tasks),
		Active:    int(p.active.Load()),
		Completed: p.completed.Load(),
		Abandoned: p.abandoned.Load(),
		Skipped:   p.skipped.Load(),
	}
}

// Close stops the workers after in-flight tasks finish. Tasks still queued
// run with a cancelled context so their waiters are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrClosed)
	for {
		select {
		case t := <-p.tasks:
			p.skipped.Add(1)
			t.run(ctx)
		default:
			return
		}
	}
}
