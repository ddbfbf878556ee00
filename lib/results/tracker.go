// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package results

import (
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
)

// DefaultCheckpointEvery is how many check-outs pass between
// throughput checkpoints.
const DefaultCheckpointEvery = 100

// Tracker is the result ledger. Safe for concurrent use.
type Tracker struct {
	clock           clock.Clock
	checkpointEvery uint64

	mu       sync.Mutex
	statuses map[uint64]Status
	counts   map[Status]int
	issued   uint64

	markIssued uint64
	markTime   time.Time
}

// NewTracker returns an empty Tracker. checkpointEvery <= 0 means
// DefaultCheckpointEvery.
func NewTracker(clk clock.Clock, checkpointEvery int) *Tracker {
	if checkpointEvery <= 0 {
		checkpointEvery = DefaultCheckpointEvery
	}
	return &Tracker{
		clock:           clk,
		checkpointEvery: uint64(checkpointEvery),
		statuses:        make(map[uint64]Status),
		counts:          make(map[Status]int),
		markTime:        clk.Now(),
	}
}

// CheckOut allocates the next id and marks it CHECKED_OUT.
func (t *Tracker) CheckOut() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.issued++
	id := t.issued
	t.statuses[id] = StatusCheckedOut
	t.counts[StatusCheckedOut]++
	if id%t.checkpointEvery == 0 {
		t.markIssued = id
		t.markTime = t.clock.Now()
	}
	return id
}

// Record finalizes id. It fails with a *StateError unless id is
// currently CHECKED_OUT, and with a plain error if status is not
// terminal.
func (t *Tracker) Record(id uint64, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("results: cannot record non-terminal status %q for %d", status, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.statuses[id]
	if !exists || current != StatusCheckedOut {
		return &StateError{ID: id, Current: current, Attempted: status}
	}
	t.statuses[id] = status
	t.counts[StatusCheckedOut]--
	t.counts[status]++
	return nil
}

// Status returns the current status of id.
func (t *Tracker) Status(id uint64) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.statuses[id]
	return status, ok
}

// Outstanding returns how many ids are still CHECKED_OUT.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[StatusCheckedOut]
}

// Snapshot is a consistent view of the ledger.
type Snapshot struct {
	CheckedOut int `json:"checked_out"`
	Success    int `json:"success"`
	Fail       int `json:"fail"`
	Hang       int `json:"hang"`
	Crash      int `json:"crash"`

	// Issued is the total number of check-outs.
	Issued uint64 `json:"issued"`

	// Throughput is check-outs per second since the last checkpoint.
	Throughput float64 `json:"throughput"`

	Taken time.Time `json:"taken"`
}

// Total is the sum of every per-status count. It always equals Issued.
func (s Snapshot) Total() uint64 {
	return uint64(s.CheckedOut + s.Success + s.Fail + s.Hang + s.Crash)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("crash: %d, hang: %d, fail: %d, success: %d, no result: %d (%d sent, %.2f/s)",
		s.Crash, s.Hang, s.Fail, s.Success, s.CheckedOut, s.Issued, s.Throughput)
}

// Snapshot returns per-status counts and the current throughput.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	snapshot := Snapshot{
		CheckedOut: t.counts[StatusCheckedOut],
		Success:    t.counts[StatusSuccess],
		Fail:       t.counts[StatusFail],
		Hang:       t.counts[StatusHang],
		Crash:      t.counts[StatusCrash],
		Issued:     t.issued,
		Taken:      now,
	}
	if elapsed := now.Sub(t.markTime).Seconds(); elapsed > 0 {
		snapshot.Throughput = float64(t.issued-t.markIssued) / elapsed
	}
	return snapshot
}
