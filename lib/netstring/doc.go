// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netstring frames the fleet's byte streams. Each frame is
//
//	<decimal-byte-length>:<payload>,
//
// [Encode] produces one frame. A [Decoder] accepts arbitrary chunks as
// they arrive from the network and returns every complete frame,
// holding partial bytes until the next chunk. One network read may
// carry zero, one, or many frames, and a frame may straddle reads.
package netstring
