// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resultdb is the analysis server's persistence: templates by
// hash and every forwarded test result.
//
// [Store] is the interface the analysis server depends on. [SQLite]
// is the production implementation, over [sqlitepool]. Templates are
// stored zstd-packed and crash test cases lz4-packed (see
// [compress]), each row carrying its compression tag and original
// size. Result fields the fleet does not interpret are kept as one
// CBOR map per row.
//
// [Memory] keeps everything in maps and serves tests and runs without
// a database path.
package resultdb
