// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
)

// Handler takes ownership of one accepted connection. It may return
// immediately after handing conn to another goroutine.
type Handler func(ctx context.Context, conn net.Conn)

// Listener accepts inbound connections from fleet peers.
type Listener interface {
	// Serve accepts connections and passes each to handler. Blocks
	// until ctx is cancelled or Close is called. Returns nil on clean
	// shutdown.
	Serve(ctx context.Context, handler Handler) error

	// Address returns the bound address in "host:port" form.
	Address() string

	// Close stops accepting. Subsequent calls to Serve return
	// immediately.
	Close() error
}

// Dialer opens connections to fleet peers.
type Dialer interface {
	// DialContext connects to address ("host:port").
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// ConnectionError reports a peer that could not be reached, or a
// connection that failed while in use.
type ConnectionError struct {
	Op      string // "dial", "read", "write"
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
