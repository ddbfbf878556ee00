// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch matches work items with workers that have declared
// themselves ready.
//
// An [Exchange] holds two FIFO queues: a backlog of items nobody has
// asked for yet and a list of ready demands nobody has fed yet. At
// most one of them is non-empty after any call returns.
// [Exchange.AnnounceReady] takes the oldest backlog item if there is
// one and otherwise records a demand; [Exchange.Submit] feeds the
// oldest demand if there is one and otherwise appends to the backlog.
//
// Each peer key carries a readiness flag. A peer that announces again
// while its earlier demand is still unserved gets no second demand,
// so one announcement is served at most once and duplicates are
// absorbed.
//
// The fuzz server runs one Exchange for test cases and one for the
// analysis feed; the analysis server runs one for trace jobs.
//
// Exchanges are safe for concurrent use. Deliver callbacks run on the
// goroutine that caused the match, outside the exchange lock; callers
// that must send from the event loop post from inside the callback.
package dispatch
