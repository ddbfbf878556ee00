// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with the fleet's standard
// pragmas.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers
// [Pool.Take] a connection, use it from one goroutine, and [Pool.Put]
// it back. Every connection gets:
//
//   - journal_mode=WAL, so the analysis server's readers never block
//     its single writer.
//   - synchronous=NORMAL: commits survive a process crash but not a
//     power failure.
//   - busy_timeout=5000 for write contention between pool members.
//   - cache_size=-8192 (8 MB per connection) and temp_store=MEMORY.
//
// Schema setup belongs in Config.OnConnect, which runs once per
// connection after the pragmas.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:      filepath.Join(workDir, "results.db"),
//	    OnConnect: func(conn *sqlite.Conn) error { return sqlitex.ExecuteScript(conn, schema, nil) },
//	})
//
// The package does not wrap queries; callers use sqlitex.Execute and
// sqlitex.ImmediateTransaction directly.
package sqlitepool
