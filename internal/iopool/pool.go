// Package iopool provides the bounded execution context that all file I/O is
// dispatched onto. A Pool caps the number of concurrent operations, converts
// panics raised inside an operation into errors, and lets cancellation unwind
// unchanged.
package iopool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when New receives a non-positive size.
var DefaultSize = 4 * runtime.GOMAXPROCS(0)

// Pool bounds concurrent I/O operations.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

type poolKey struct{ p *Pool }

// New returns a Pool admitting at most size concurrent operations.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int { return int(p.size) }

// Do runs fn once a slot is free. Nested calls made with the context handed to
// fn run inline on the slot already held, so decorators may dispatch onto the
// same pool without deadlocking it.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if held, _ := ctx.Value(poolKey{p}).(bool); held {
		return run(ctx, fn)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return run(context.WithValue(ctx, poolKey{p}, true), fn)
}

// Value runs fn on the pool and returns its result.
func Value[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// run invokes fn, recovering panics. When the context is done the context
// error is returned in place of whatever fn produced.
func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iopool: panic: %v", r)
		}
		if err != nil && ctx.Err() != nil {
			err = ctx.Err()
		}
	}()
	return fn(ctx)
}
