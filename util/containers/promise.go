// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package containers

import (
	"context"
	"errors"
	"sync"
)

var ErrNotReady = errors.New("not ready")

// Promise is a one-shot handle for a result produced asynchronously. Multiple
// goroutines may Await the same promise; all observe the single produced
// value or error. Used for single-flight resolution: concurrent resolvers
// share one pending promise instead of issuing redundant calls.
type Promise[T any] struct {
	mutex     sync.Mutex
	result    T
	err       error
	produced  bool
	done      chan struct{}
	cancelFn  func()
	cancelled bool
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// SetCancel registers a function invoked when an Await gives up or the
// promise is cancelled, so the underlying work can be torn down.
func (p *Promise[T]) SetCancel(cancel func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cancelFn = cancel
}

func (p *Promise[T]) produce(result T, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.produced {
		return
	}
	p.result = result
	p.err = err
	p.produced = true
	close(p.done)
}

// Produce resolves the promise. Later calls are no-ops.
func (p *Promise[T]) Produce(result T) {
	p.produce(result, nil)
}

// ProduceError rejects the promise. Later calls are no-ops.
func (p *Promise[T]) ProduceError(err error) {
	var empty T
	p.produce(empty, err)
}

// Current returns the result if already produced, ErrNotReady otherwise.
func (p *Promise[T]) Current() (T, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.produced {
		var empty T
		return empty, ErrNotReady
	}
	return p.result, p.err
}

// Await blocks until the promise resolves or ctx ends. A context failure
// triggers the registered cancel function.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		p.mutex.Lock()
		defer p.mutex.Unlock()
		return p.result, p.err
	case <-ctx.Done():
		p.runCancel()
		var empty T
		return empty, ctx.Err()
	}
}

// Cancel tears down the underlying work without resolving the promise.
func (p *Promise[T]) Cancel() {
	p.runCancel()
}

func (p *Promise[T]) runCancel() {
	p.mutex.Lock()
	cancel := p.cancelFn
	p.mutex.Unlock()
	if cancel != nil {
		cancel()
	}
}
