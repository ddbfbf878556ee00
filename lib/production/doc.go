// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package production implements the production client, the role that
// generates test cases from a template and feeds them to the fuzz
// server.
//
// The client connects, announces itself with client_startup (carrying
// the template, its CRC-32 and its hash) and then heartbeats with
// client_ready while it waits. Each server_ready is answered with the
// next case from its [Generator] as new_test_case. A reset from the
// server, which means the server has no record of this producer,
// triggers a fresh client_startup. When the generator is exhausted and
// every case has been acked, the client sends client_bye and exits as
// soon as the bye is acked or has timed out once.
//
// Any inbound message cancels the running heartbeat before it is
// handled, and every handler that leaves the client waiting starts a
// new one, so exactly one heartbeat is ever outstanding.
package production
