// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resultdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/codec"
	"github.com/bureau-foundation/fuzzfarm/lib/compress"
	"github.com/bureau-foundation/fuzzfarm/lib/results"
	"github.com/bureau-foundation/fuzzfarm/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS templates (
	hash        TEXT PRIMARY KEY,
	compression INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	data        BLOB NOT NULL,
	stored_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	row           INTEGER PRIMARY KEY AUTOINCREMENT,
	result_id     INTEGER NOT NULL,
	status        TEXT NOT NULL,
	station_id    TEXT NOT NULL,
	queue         TEXT NOT NULL,
	template_hash TEXT NOT NULL,
	crc32         INTEGER NOT NULL,
	compression   INTEGER NOT NULL,
	size          INTEGER NOT NULL,
	data          BLOB,
	extra         BLOB,
	received_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS results_status ON results (status);
CREATE INDEX IF NOT EXISTS results_template ON results (template_hash);
`

// SQLiteConfig holds the parameters for OpenSQLite.
type SQLiteConfig struct {
	Path     string
	PoolSize int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// SQLite is the database-backed Store.
type SQLite struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at config.Path.
func OpenSQLite(ctx context.Context, config SQLiteConfig) (*SQLite, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Logger:   config.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("result database: %w", err)
	}
	return &SQLite{pool: pool, clock: config.Clock}, nil
}

// Close waits for in-flight operations and closes the database.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

func (s *SQLite) GetTemplate(ctx context.Context, hash string) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("result database: get template: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		found  bool
		tag    compress.Tag
		size   int
		packed []byte
	)
	err = sqlitex.Execute(conn, `SELECT compression, size, data FROM templates WHERE hash = ?`, &sqlitex.ExecOptions{
		Args: []any{hash},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			tag = compress.Tag(stmt.ColumnInt(0))
			size = stmt.ColumnInt(1)
			packed = make([]byte, stmt.ColumnLen(2))
			stmt.ColumnBytes(2, packed)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("result database: get template %s: %w", hash, err)
	}
	if !found {
		return nil, ErrTemplateNotFound
	}
	template, err := compress.Unpack(packed, tag, size)
	if err != nil {
		return nil, fmt.Errorf("result database: template %s: %w", hash, err)
	}
	return template, nil
}

func (s *SQLite) StoreTemplate(ctx context.Context, hash string, template []byte) error {
	packed, tag, err := compress.Pack(template, compress.Zstd)
	if err != nil {
		return fmt.Errorf("result database: packing template %s: %w", hash, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("result database: store template: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO templates (hash, compression, size, data, stored_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		&sqlitex.ExecOptions{
			Args: []any{hash, int(tag), len(template), packed, s.clock.Now().UTC().Format(time.RFC3339Nano)},
		})
	if err != nil {
		return fmt.Errorf("result database: store template %s: %w", hash, err)
	}
	return nil
}

func (s *SQLite) StoreResult(ctx context.Context, result Result) (err error) {
	packed, tag := []byte(nil), compress.None
	if len(result.Data) > 0 {
		packed, tag, err = compress.Pack(result.Data, compress.LZ4)
		if err != nil {
			return fmt.Errorf("result database: packing result %d: %w", result.ID, err)
		}
	}
	var extra []byte
	if len(result.Extra) > 0 {
		extra, err = codec.Marshal(result.Extra)
		if err != nil {
			return fmt.Errorf("result database: encoding fields of result %d: %w", result.ID, err)
		}
	}
	received := result.Received
	if received.IsZero() {
		received = s.clock.Now()
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("result database: store result: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("result database: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO results (result_id, status, station_id, queue, template_hash, crc32,
		                      compression, size, data, extra, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				int64(result.ID), string(result.Status), result.StationID, result.Queue,
				result.TemplateHash, int64(result.CRC32), int(tag), len(result.Data),
				packed, extra, received.UTC().Format(time.RFC3339Nano),
			},
		})
	if err != nil {
		return fmt.Errorf("result database: store result %d: %w", result.ID, err)
	}
	return nil
}

// Crashes returns every stored CRASH result, oldest first.
func (s *SQLite) Crashes(ctx context.Context) ([]Result, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("result database: crashes: %w", err)
	}
	defer s.pool.Put(conn)

	var crashes []Result
	err = sqlitex.Execute(conn,
		`SELECT result_id, status, station_id, queue, template_hash, crc32, compression, size, data, extra, received_at
		 FROM results WHERE status = ? ORDER BY row`,
		&sqlitex.ExecOptions{
			Args: []any{string(results.StatusCrash)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				result, err := scanResult(stmt)
				if err != nil {
					return err
				}
				crashes = append(crashes, result)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("result database: crashes: %w", err)
	}
	return crashes, nil
}

// Counts returns the number of stored results per status.
func (s *SQLite) Counts(ctx context.Context) (map[results.Status]int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("result database: counts: %w", err)
	}
	defer s.pool.Put(conn)

	counts := make(map[results.Status]int)
	err = sqlitex.Execute(conn, `SELECT status, COUNT(*) FROM results GROUP BY status`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			counts[results.Status(stmt.ColumnText(0))] = stmt.ColumnInt(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("result database: counts: %w", err)
	}
	return counts, nil
}

func scanResult(stmt *sqlite.Stmt) (Result, error) {
	result := Result{
		ID:           uint64(stmt.ColumnInt64(0)),
		Status:       results.Status(stmt.ColumnText(1)),
		StationID:    stmt.ColumnText(2),
		Queue:        stmt.ColumnText(3),
		TemplateHash: stmt.ColumnText(4),
		CRC32:        uint32(stmt.ColumnInt64(5)),
	}
	tag := compress.Tag(stmt.ColumnInt(6))
	size := stmt.ColumnInt(7)
	if size > 0 {
		packed := make([]byte, stmt.ColumnLen(8))
		stmt.ColumnBytes(8, packed)
		data, err := compress.Unpack(packed, tag, size)
		if err != nil {
			return Result{}, fmt.Errorf("result %d: %w", result.ID, err)
		}
		result.Data = data
	}
	if extraLength := stmt.ColumnLen(9); extraLength > 0 {
		extra := make([]byte, extraLength)
		stmt.ColumnBytes(9, extra)
		if err := codec.Unmarshal(extra, &result.Extra); err != nil {
			return Result{}, fmt.Errorf("result %d fields: %w", result.ID, err)
		}
	}
	received, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(10))
	if err != nil {
		return Result{}, fmt.Errorf("result %d received_at: %w", result.ID, err)
	}
	result.Received = received
	return result, nil
}
