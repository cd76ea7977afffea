package store

import (
	"context"
	"sync"
)

type exclusiveKey struct{}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Executor runs blocks one at a time in submission order.
// Adapters use it to provide RunExclusive and RunExclusiveBlocking.
type Executor struct {
	mu      sync.Mutex
	queue   []job
	running bool
}

func NewExecutor() *Executor {
	return &Executor{}
}

// Submit queues fn and returns a channel that receives its result.
func (e *Executor) Submit(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)

	e.mu.Lock()
	e.queue = append(e.queue, job{ctx: ctx, fn: fn, done: done})
	if !e.running {
		e.running = true
		go e.drain()
	}
	e.mu.Unlock()

	return done
}

// Run executes fn on the executor and waits. Calls made from inside a running block execute inline.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(exclusiveKey{}).(*Executor); ok && owner == e {
		return fn(ctx)
	}
	return <-e.Submit(ctx, fn)
}

func (e *Executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if err := next.ctx.Err(); err != nil {
			next.done <- err
			continue
		}
		next.done <- next.fn(context.WithValue(next.ctx, exclusiveKey{}, e))
	}
}
