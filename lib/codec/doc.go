// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the fleet's standard CBOR encoding
// configuration.
//
// The fleet uses two serialization formats with a clear boundary:
//
//   - JSON on the wire between roles, because agents and trace workers
//     are written in other languages and the field map is open.
//   - CBOR for everything a Go process writes for itself: the tracker
//     snapshot state file and the pass-through field blobs in the
//     result database.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Times are written as RFC 3339 text with nanoseconds.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Struct types read `json` tags as a fallback when no `cbor` tag is
// present, so a type that is both logged as JSON and stored as CBOR
// needs only one set of tags.
package codec
