// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// ListenOptions tunes the listening socket.
type ListenOptions struct {
	// ReusePort sets SO_REUSEPORT, letting several processes bind the
	// same address and share incoming connections.
	ReusePort bool
}

// TCPListener accepts inbound TCP connections.
type TCPListener struct {
	listener net.Listener

	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup
}

// NewTCPListener binds address (e.g. ":10001" or "127.0.0.1:0").
func NewTCPListener(ctx context.Context, address string, options ListenOptions) (*TCPListener, error) {
	config := net.ListenConfig{
		Control: func(network, address string, raw syscall.RawConn) error {
			var optionErr error
			err := raw.Control(func(fd uintptr) {
				optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if optionErr == nil && options.ReusePort {
					optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
			})
			if err != nil {
				return err
			}
			return optionErr
		},
	}
	listener, err := config.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Address: address, Err: err}
	}
	return &TCPListener{listener: listener}, nil
}

// Serve accepts connections until ctx is cancelled or Close is
// called, then waits for running handlers to return.
func (l *TCPListener) Serve(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer l.conns.Wait()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &ConnectionError{Op: "accept", Address: l.Address(), Err: err}
		}
		l.conns.Add(1)
		go func() {
			defer l.conns.Done()
			handler(ctx, conn)
		}()
	}
}

// Address returns the TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

func (l *TCPListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// TCPDialer opens TCP connections to fleet peers.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a TCP connection to be
	// established. Zero means no standalone timeout, only the context
	// deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to the given address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Address: address, Err: err}
	}
	return conn, nil
}
