// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"time"
)

// WaitFor polls condition until it returns true, or fails the test
// after timeout. Use it only for state that has no channel to wait on,
// such as a counter updated by another process's message.
//
//	testutil.WaitFor(t, 5*time.Second, func() bool { return tracker.Outstanding() == 0 }, "results recorded")
func WaitFor(t Fataler, timeout time.Duration, condition func() bool, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout) //nolint:realclock test hang prevention
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf("condition not met after %v: %s", timeout, describe(msgAndArgs))
		}
		time.Sleep(5 * time.Millisecond) //nolint:realclock short poll
	}
}
