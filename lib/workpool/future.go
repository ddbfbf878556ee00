// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workpool

import (
	"context"
	"errors"
	"sync"

	"github.com/bureau-foundation/fuzzfarm/lib/eventloop"
)

// ErrCancelled is the error of a cancelled future.
var ErrCancelled = errors.New("workpool: cancelled")

// State is a future's lifecycle position.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Future is the eventual outcome of a pool task.
type Future[T any] struct {
	mu        sync.Mutex
	state     State
	value     T
	err       error
	callbacks []func()
	done      chan struct{}

	// cancel stops the task's context. Nil for futures not backed by
	// a running task.
	cancel context.CancelFunc
}

func newFuture[T any](cancel context.CancelFunc) *Future[T] {
	return &Future[T]{done: make(chan struct{}), cancel: cancel}
}

// resolve moves a pending future to state. It reports false if the
// future had already left pending.
func (f *Future[T]) resolve(state State, value T, err error) bool {
	f.mu.Lock()
	if f.state != StatePending {
		f.mu.Unlock()
		return false
	}
	f.state = state
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
	return true
}

// Cancel abandons the future. It reports true if the future was still
// pending; the task's context is cancelled and its eventual result is
// dropped.
func (f *Future[T]) Cancel() bool {
	var zero T
	if !f.resolve(StateCancelled, zero, ErrCancelled) {
		return false
	}
	if f.cancel != nil {
		f.cancel()
	}
	return true
}

// State returns the current lifecycle position.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done is closed once the future is completed or cancelled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then posts fn to poster once the future resolves. A cancelled
// future delivers ErrCancelled. If the future has already resolved,
// fn is posted immediately.
func (f *Future[T]) Then(poster eventloop.Poster, fn func(T, error)) {
	deliver := func() {
		f.mu.Lock()
		value, err := f.value, f.err
		f.mu.Unlock()
		poster.Post(func() { fn(value, err) })
	}

	f.mu.Lock()
	if f.state == StatePending {
		f.callbacks = append(f.callbacks, deliver)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	deliver()
}
