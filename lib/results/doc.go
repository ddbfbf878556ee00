// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package results accounts for every test case the fuzz server hands
// out.
//
// [Tracker.CheckOut] allocates the next id (1, 2, 3, ...) and marks it
// CHECKED_OUT. [Tracker.Record] moves a checked-out id to one terminal
// status exactly once; recording an id that is unknown or already
// final returns a [*StateError], which callers treat as a defect in
// the reporting peer rather than a protocol hiccup. [Tracker.Snapshot]
// counts ids per status and derives a throughput figure from the most
// recent checkpoint, which is refreshed every N check-outs.
//
// All methods share one mutex and do no I/O while holding it. The sum
// of a snapshot's counts always equals the number of check-outs.
package results
