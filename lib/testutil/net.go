// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

// Listen opens a TCP listener on an ephemeral loopback port.
func Listen(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening on loopback: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })
	return listener
}

// TCPPair returns the client and server ends of a loopback TCP
// connection.
func TCPPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	listener := Listen(t)

	accepted := make(chan net.Conn, 1)
	failed := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			failed <- err
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dialing loopback listener: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case err := <-failed:
		t.Fatalf("accepting loopback connection: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

// WorkDir creates a work directory inside t.TempDir and returns its
// path.
func WorkDir(t *testing.T) string {
	t.Helper()
	directory := filepath.Join(t.TempDir(), "work")
	if err := os.Mkdir(directory, 0o755); err != nil {
		t.Fatalf("creating work directory: %v", err)
	}
	return directory
}
