// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries fleet protocol connections over TCP.
//
// The package defines two interfaces: [Listener] accepts inbound
// connections (Serve, Address, Close) and [Dialer] establishes outbound
// ones (DialContext). The fuzz server and the analysis server each run
// a Listener; production clients and the analysis server's feed link
// use a Dialer.
//
// [TCPListener] sets SO_REUSEADDR on its socket so a restarted server
// can rebind its port while old connections sit in TIME_WAIT, and
// optionally SO_REUSEPORT so several servers can share one port.
//
// Failures to reach or keep a peer are reported as [*ConnectionError].
// Callers treat them as a reason to reconnect on the next send, never
// as fatal.
package transport
