// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer binds one TCP connection to the fleet protocol.
//
// A [Peer] owns a socket, a frame decoder, a [reliable.Channel] and a
// [fuzzproto.Router]. A reader goroutine copies raw chunks off the
// socket and posts them to the event loop, and a writer goroutine
// drains a bounded queue of outgoing frames; everything else (decoding,
// dispatch, sends, timers) runs on the loop, so role handlers can keep
// per-connection state in plain fields. A peer that stops reading
// fills its own queue and is dropped without stalling the loop.
//
// For each inbound message the Peer cancels the channel's idle wait,
// then dispatches. Malformed frames, non-object payloads and unhandled
// verbs are logged and dropped; the connection stays up.
//
// Outbound peers (created with a Dial function) reconnect lazily: a
// send on a broken connection starts a dial in the background and
// fails, and the message's own timeout policy takes it from there.
// Accepted peers cannot redial; when their connection ends the Peer
// closes its channel and reports the disconnect.
//
// With Debug set, every message in and out is logged at debug level
// as "IN"/"OUT" with its verb:ack_id label and the remote address.
package peer
