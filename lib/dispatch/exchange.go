// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// DeliverFunc hands a matched item to the peer that announced the
// demand.
type DeliverFunc[T any] func(item T)

type demand[T any] struct {
	peer    string
	deliver DeliverFunc[T]
}

// Exchange is a FIFO work/demand matcher.
type Exchange[T any] struct {
	name     string
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	space   *sync.Cond
	backlog []T
	demands []demand[T]
	ready   map[string]bool

	submitted uint64
	delivered uint64
}

// Stats is a point-in-time view of an Exchange.
type Stats struct {
	Backlog   int
	Waiting   int
	Submitted uint64
	Delivered uint64
}

// New returns an empty Exchange. A positive capacity bounds the
// backlog for SubmitWait; Submit ignores it so that requeued work is
// never refused.
func New[T any](name string, capacity int, logger *slog.Logger) *Exchange[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	exchange := &Exchange[T]{
		name:     name,
		capacity: capacity,
		logger:   logger.With("exchange", name),
		ready:    make(map[string]bool),
	}
	exchange.space = sync.NewCond(&exchange.mu)
	return exchange
}

// Name returns the exchange name given to New.
func (e *Exchange[T]) Name() string { return e.name }

// AnnounceReady declares that peer can take one item.
//
// If the backlog is non-empty the oldest item is removed and returned
// with ok true, and no demand is recorded. Otherwise, unless peer
// already has an unserved demand, deliver is recorded and called with
// the next submitted item.
func (e *Exchange[T]) AnnounceReady(peer string, deliver DeliverFunc[T]) (item T, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.backlog) > 0 {
		item = e.backlog[0]
		var zero T
		e.backlog[0] = zero
		e.backlog = e.backlog[1:]
		e.delivered++
		e.space.Broadcast()
		return item, true
	}
	if e.ready[peer] {
		e.logger.Debug("duplicate ready announcement ignored", "peer", peer)
		return item, false
	}
	e.demands = append(e.demands, demand[T]{peer: peer, deliver: deliver})
	e.ready[peer] = true
	return item, false
}

// Submit adds item, delivering it at once to the oldest waiting
// demand if there is one.
func (e *Exchange[T]) Submit(item T) {
	e.mu.Lock()
	deliver := e.submitLocked(item)
	e.mu.Unlock()

	if deliver != nil {
		deliver(item)
	}
}

// SubmitWait waits until the backlog is below capacity, then builds
// and submits an item. build runs under the exchange lock, so it must
// be quick and must not call back into the Exchange; it is where the
// fuzz server allocates the result id, which therefore happens only
// once room exists. On ctx cancellation build is not called.
func (e *Exchange[T]) SubmitWait(ctx context.Context, build func() T) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.space.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	e.mu.Lock()
	for e.capacity > 0 && len(e.backlog) >= e.capacity {
		if err := ctx.Err(); err != nil {
			e.mu.Unlock()
			var zero T
			return zero, err
		}
		e.space.Wait()
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		var zero T
		return zero, err
	}
	item := build()
	deliver := e.submitLocked(item)
	e.mu.Unlock()

	if deliver != nil {
		deliver(item)
	}
	return item, nil
}

func (e *Exchange[T]) submitLocked(item T) DeliverFunc[T] {
	e.submitted++
	if len(e.demands) == 0 {
		e.backlog = append(e.backlog, item)
		return nil
	}
	next := e.demands[0]
	e.demands[0] = demand[T]{}
	e.demands = e.demands[1:]
	delete(e.ready, next.peer)
	e.delivered++
	return next.deliver
}

// Withdraw drops every unserved demand from peer, as when its
// connection closes. It returns the number dropped.
func (e *Exchange[T]) Withdraw(peer string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.demands[:0]
	dropped := 0
	for _, waiting := range e.demands {
		if waiting.peer == peer {
			dropped++
			continue
		}
		kept = append(kept, waiting)
	}
	for i := len(kept); i < len(e.demands); i++ {
		e.demands[i] = demand[T]{}
	}
	e.demands = kept
	delete(e.ready, peer)
	return dropped
}

// Remove drops every backlog item for which match returns true and
// returns how many were dropped. match runs under the exchange lock.
func (e *Exchange[T]) Remove(match func(T) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.backlog[:0]
	for _, item := range e.backlog {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	removed := len(e.backlog) - len(kept)
	var zero T
	for i := len(kept); i < len(e.backlog); i++ {
		e.backlog[i] = zero
	}
	e.backlog = kept
	if removed > 0 {
		e.space.Broadcast()
	}
	return removed
}

// Ready reports whether peer has an unserved demand.
func (e *Exchange[T]) Ready(peer string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready[peer]
}

// Backlog returns the number of items waiting for a demand.
func (e *Exchange[T]) Backlog() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.backlog)
}

// Stats returns queue depths and lifetime counters.
func (e *Exchange[T]) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Backlog:   len(e.backlog),
		Waiting:   len(e.demands),
		Submitted: e.submitted,
		Delivered: e.delivered,
	}
}
