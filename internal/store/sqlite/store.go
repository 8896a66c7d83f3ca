// Copyright 2026 The MakeMeAdmin CLI Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite implements the grant store on an embedded SQLite database.
//
// The database is shared between the broker and out-of-process revocation
// jobs. SQLite in WAL mode gives each writer a fresh read-modify-write
// transaction against current on-disk state, which is exactly the lost-update
// protection the store contract requires.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/SharkByte561/MakeMeAdminCli/internal/grant"
	"github.com/SharkByte561/MakeMeAdminCli/internal/observability/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS grants (
	identity   TEXT PRIMARY KEY,
	granted_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	job_id     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	metaLastUpdated = "last_updated"
	metaBrokerStart = "broker_start_time"
)

// Store implements grant.Store on SQLite.
type Store struct {
	pool *sqlitex.Pool
	path string

	// recovered is true when Open found the database unreadable and
	// reinitialized it empty.
	recovered bool
}

var _ grant.Store = (*Store)(nil)

// Open opens (or creates) the grant database. An unreadable or corrupt
// database is moved aside and reinitialized empty; losing the advisory
// cache is recoverable, a broker that refuses to start is not.
func Open(ctx context.Context, path string) (*Store, error) {
	pool, err := openAndVerify(ctx, path)
	if err != nil {
		slog.WarnContext(ctx, "grant database unreadable, reinitializing",
			logger.Operation("open"),
			logger.Error(err),
			logger.String("path", path),
		)
		if moveErr := moveAside(path); moveErr != nil {
			return nil, fmt.Errorf("sqlite: move corrupt database aside: %w", moveErr)
		}
		pool, err = openAndVerify(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: reinitialize database: %w", err)
		}
		return &Store{pool: pool, path: path, recovered: true}, nil
	}
	return &Store{pool: pool, path: path}, nil
}

// Recovered reports whether Open had to discard a corrupt database.
func (s *Store) Recovered() bool {
	return s.recovered
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func openAndVerify(ctx context.Context, path string) (*sqlitex.Pool, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL,
		PoolSize: 2,
	})
	if err != nil {
		return nil, err
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer pool.Put(conn)

	// A corrupt file often opens fine and fails on first read; probe before
	// trusting it.
	var integrity string
	err = sqlitex.Execute(conn, "PRAGMA integrity_check", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if integrity == "" {
				integrity = stmt.ColumnText(0)
			}
			return nil
		},
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	if integrity != "ok" {
		pool.Close()
		return nil, fmt.Errorf("integrity check: %s", integrity)
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func moveAside(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	dst := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, dst); err != nil {
		return err
	}
	// Stale WAL sidecars would resurrect the corruption on reopen.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	return nil
}

// Get returns the active record for an identity.
func (s *Store) Get(ctx context.Context, identity string) (*grant.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var rec *grant.Record
	err = sqlitex.Execute(conn, `
		SELECT identity, granted_at, expires_at, job_id
		FROM grants WHERE identity = ?
	`, &sqlitex.ExecOptions{
		Args: []any{identity},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec = scanRecord(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: get grant: %w", err)
	}
	if rec == nil {
		return nil, grant.ErrNotFound
	}
	return rec, nil
}

// List returns all active records.
func (s *Store) List(ctx context.Context) ([]*grant.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []*grant.Record
	err = sqlitex.Execute(conn, `
		SELECT identity, granted_at, expires_at, job_id
		FROM grants ORDER BY identity
	`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, scanRecord(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list grants: %w", err)
	}
	return records, nil
}

// Put inserts or replaces the record for record.Identity.
func (s *Store) Put(ctx context.Context, record *grant.Record) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn, `
		INSERT INTO grants (identity, granted_at, expires_at, job_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at,
			job_id     = excluded.job_id
	`, &sqlitex.ExecOptions{
		Args: []any{
			record.Identity,
			record.GrantedAt.Unix(),
			record.ExpiresAt.Unix(),
			record.JobID,
		},
	})
	if err != nil {
		return fmt.Errorf("sqlite: put grant: %w", err)
	}
	return s.touch(conn)
}

// Delete removes the record for an identity; absent records are a no-op.
func (s *Store) Delete(ctx context.Context, identity string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn, `DELETE FROM grants WHERE identity = ?`, &sqlitex.ExecOptions{
		Args: []any{identity},
	})
	if err != nil {
		return fmt.Errorf("sqlite: delete grant: %w", err)
	}
	return s.touch(conn)
}

// BrokerStartTime returns the recorded broker start time, or the zero time
// when none was recorded yet.
func (s *Store) BrokerStartTime(ctx context.Context) (time.Time, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer s.pool.Put(conn)

	var raw string
	err = sqlitex.Execute(conn, `SELECT value FROM meta WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{metaBrokerStart},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: broker start time: %w", err)
	}
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// MarkBrokerStart records a broker (re)start.
func (s *Store) MarkBrokerStart(ctx context.Context, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return s.setMeta(conn, metaBrokerStart, at.UTC().Format(time.RFC3339Nano))
}

func (s *Store) touch(conn *sqlite.Conn) error {
	return s.setMeta(conn, metaLastUpdated, time.Now().UTC().Format(time.RFC3339Nano))
}

func (s *Store) setMeta(conn *sqlite.Conn, key, value string) error {
	err := sqlitex.Execute(conn, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, &sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("sqlite: set meta %s: %w", key, err)
	}
	return nil
}

func scanRecord(stmt *sqlite.Stmt) *grant.Record {
	return &grant.Record{
		Identity:  stmt.ColumnText(0),
		GrantedAt: time.Unix(stmt.ColumnInt64(1), 0).UTC(),
		ExpiresAt: time.Unix(stmt.ColumnInt64(2), 0).UTC(),
		JobID:     stmt.ColumnText(3),
	}
}
