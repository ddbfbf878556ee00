// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for fuzzfarm packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never call time.After themselves, and [WaitFor]
// polls state that has no channel. These are the only wall-clock waits
// in the test suite; protocol timing runs on a fake clock.
//
// [TCPPair] returns both ends of a loopback TCP connection, [Listen]
// opens a loopback listener on an ephemeral port, and [WorkDir] creates
// a scratch work directory. All are cleaned up when the test ends.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
