// Package workers implements the bounded execution pool behind the
// goroutine job backend. Unlike a queueing scheduler, the pool does no
// ordering of its own: admission order is decided upstream by the engine's
// admission loop, and every submission already holds its ledger slots. The
// pool's job is narrower — cap how many callables run at once, isolate
// panics, and let cancelled work resolve without ever occupying a worker
// slot.
package workers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Nanguage/executor/internal/models"
)

type request struct {
	fn  models.Work[any]
	c   chan models.Result[any]
	ctx context.Context
}

// Pool bounds concurrent work with a token bucket: a submission runs only
// while it holds one of size tokens. Submissions cancelled while waiting
// for a token resolve with their context error and never consume one.
type Pool struct {
	tokens     chan struct{}
	mainCtx    context.Context
	mainCancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool creates a pool that runs at most size callables concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	tokens := make(chan struct{}, size)
	for range size {
		tokens <- struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tokens:     tokens,
		mainCtx:    ctx,
		mainCancel: cancel,
	}
}

// Submit schedules fn and returns its pending result. The returned future's
// Stop cancels the work's context, whether it is still waiting for a token
// or already running. After Close, the future resolves immediately with
// context.Canceled.
func (p *Pool) Submit(fn models.Work[any]) *models.PoolFuture[models.Result[any]] {
	c := make(chan models.Result[any], 1)
	ctx, cancel := context.WithCancel(p.mainCtx)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		c <- models.Result[any]{Err: context.Canceled}
		return models.NewPoolFuture(c, cancel)
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go p.execute(request{fn, c, ctx})
	return models.NewPoolFuture(c, cancel)
}

// execute waits for a worker token, runs the callable and hands the token
// back. Cancellation while queued wins over a free token.
func (p *Pool) execute(r request) {
	defer p.wg.Done()

	if r.ctx.Err() != nil {
		r.c <- models.Result[any]{Err: r.ctx.Err()}
		return
	}
	select {
	case <-r.ctx.Done():
		r.c <- models.Result[any]{Err: r.ctx.Err()}
		return
	case <-p.tokens:
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.c <- models.Result[any]{Err: fmt.Errorf("worker panicked: %v", rec)}
		}
		p.tokens <- struct{}{}
	}()

	v, err := r.fn(r.ctx)
	r.c <- models.Result[any]{Data: v, Err: err}
}

// Close cancels all submitted work, waits for in-flight callables to return
// and refuses new submissions. Idempotent.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.mainCancel()
		p.wg.Wait()
		zap.S().Named("pool").Debug("worker pool closed")
	})
}
