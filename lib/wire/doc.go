// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire converts frame payloads to and from [Message] values.
//
// A payload is a UTF-8 JSON object. Its "verb" member is mandatory and
// selects the handler; "ack_id", when present, is a non-negative
// integer correlating a request with its acknowledgement. Every other
// member is kept as a [Value] in the message's open field map,
// including members neither peer predefined. A peer that does not
// understand a field passes it through unchanged, which is how the
// protocol grows without coordinated releases.
//
// Messages are values: the With methods return modified copies, so a
// message handed to a send call cannot change underneath a pending
// retransmission.
package wire
