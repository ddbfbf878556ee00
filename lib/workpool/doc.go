// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workpool runs blocking operations off the event loop.
//
// A [Pool] is a fixed set of worker goroutines fed by a bounded task
// queue. [Submit] never blocks: when the queue is full it fails with
// [ErrFull] and the caller decides what to do, so the event loop is
// never stalled by a busy pool.
//
// Each submission returns a [Future]. A future is pending until the
// task returns (completed) or [Future.Cancel] wins (cancelled). Both
// transitions happen at most once, and the loser of a complete/cancel
// race is discarded. [Future.Then] marshals the outcome back onto an
// [eventloop.Poster], which is how results reach connection state.
package workpool
