// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop serializes all work touching one connection's
// state onto a single goroutine.
//
// Reader goroutines, timer callbacks and worker-pool completions never
// mutate connection state directly. They [Loop.Post] a closure, and the
// goroutine inside [Loop.Run] executes closures one at a time in post
// order. Code running on the loop may therefore use plain fields
// without locks.
//
// [Inline] satisfies the same [Poster] interface by running closures
// on the caller's goroutine. It exists for tests that drive
// components synchronously with a fake clock.
package eventloop
