// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for the fuzzing
// fleet's timers: ack deadlines, idle heartbeats, periodic result
// reports, and the shutdown grace delay.
//
// Production code holds a [Clock] and never calls time.Now,
// time.AfterFunc, or time.NewTicker directly. Binaries pass Real();
// tests pass Fake() and drive time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	channel := reliable.New(reliable.Config{Clock: c, ...})
//	channel.SendTracked(msg, reliable.Resend())
//	c.Advance(pollInterval) // the ack deadline fires deterministically
//
// # Synchronization
//
// Timers registered on a [FakeClock] stay pending until Advance moves
// the clock past their deadline. A test that starts a goroutine which
// registers a timer calls WaitForTimers first so that Advance cannot
// race the registration.
package clock
