// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"context"
	"sync"
)

// Poster accepts closures to run on an owning goroutine. Post reports
// false when the closure will never run because the owner has stopped.
type Poster interface {
	Post(fn func()) bool
}

// Loop runs posted closures sequentially on the goroutine that calls
// Run. Post never blocks; the queue is unbounded.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	// wake has capacity 1 so Post can signal without blocking and
	// repeated posts coalesce into one wakeup.
	wake chan struct{}
	done chan struct{}
}

// New returns a Loop that is not yet running.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. It returns false, and drops fn, once the loop has
// stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted closures until ctx is cancelled or Stop is
// called, then closes Done. Closures still queued at that point are
// discarded. Run must be called at most once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer l.Stop()

	for {
		batch := l.take()
		for _, fn := range batch {
			if l.isStopped() {
				return
			}
			fn()
		}
		if l.isStopped() {
			return
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return
		}
	}
}

// Stop makes Run return after the closure it is executing, if any.
// Safe to call from any goroutine, including from a posted closure,
// and more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Inline is a Poster that runs each closure immediately on the
// posting goroutine.
type Inline struct{}

// Post runs fn and returns true.
func (Inline) Post(fn func()) bool {
	fn()
	return true
}
