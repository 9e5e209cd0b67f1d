package script

import (
	"context"
	"errors"
)

// Pool bounds how many scripts run concurrently, matching spec.md §4.G's
// "bounded pool of OS threads, each running a single-threaded
// cooperative runtime". Go's goroutines already give each Eval call its
// own stack, so the pool's job is purely the concurrency bound: a
// buffered channel used as a counting semaphore.
type Pool struct {
	slots chan struct{}
}

// New creates a Pool allowing up to size concurrent evaluations.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

var ErrPoolClosed = errors.New("script pool closed")

// Submit runs src on the pool, blocking until a slot is free or ctx is
// canceled.
func (p *Pool) Submit(ctx context.Context, src string, opts Options) (Result, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-p.slots }()

	return Eval(ctx, src, opts)
}
