// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrFull is returned by Submit when the task queue is full.
	ErrFull = errors.New("workpool: queue full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("workpool: closed")
)

// Pool is a fixed-size set of worker goroutines.
type Pool struct {
	tasks  chan func()
	ctx    context.Context
	stop   context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New starts workers goroutines with room for queueDepth waiting tasks.
func New(workers, queueDepth int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		panic(fmt.Sprintf("workpool.New: workers must be positive, got %d", workers))
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, stop := context.WithCancel(context.Background())
	pool := &Pool{
		tasks:  make(chan func(), queueDepth),
		ctx:    ctx,
		stop:   stop,
		logger: logger,
	}
	pool.wg.Add(workers)
	for range workers {
		go pool.work()
	}
	return pool
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues fn. fn's context is cancelled when the future is
// cancelled or the pool is closed. A panic inside fn is recovered and
// becomes the future's error.
func Submit[T any](p *Pool, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	ctx, cancel := context.WithCancel(p.ctx)
	future := newFuture[T](cancel)

	task := func() {
		defer cancel()
		if ctx.Err() != nil {
			var zero T
			future.resolve(StateCompleted, zero, ctx.Err())
			return
		}
		value, err := run(ctx, fn, p.logger)
		future.resolve(StateCompleted, value, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		cancel()
		return nil, ErrClosed
	}
	select {
	case p.tasks <- task:
		return future, nil
	default:
		cancel()
		return nil, ErrFull
	}
}

func run[T any](ctx context.Context, fn func(context.Context) (T, error), logger *slog.Logger) (value T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("pool task panicked", "panic", recovered)
			err = fmt.Errorf("workpool: task panicked: %v", recovered)
		}
	}()
	return fn(ctx)
}

// Close stops accepting tasks, cancels the context of every queued and
// running task, and waits for the workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.stop()
	p.wg.Wait()
}
