// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite opens the single-file SQLite database behind the "sqlite"
// store backend.
//
// The driver is modernc.org/sqlite, which needs no cgo. Open applies the
// schema on every start; statements are idempotent so an existing file is
// reused as is.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// schema holds one row per trace version and a small key/value table for
// counters. body is the JSON-encoded trace.
const schema = `
CREATE TABLE IF NOT EXISTS traces (
	id        TEXT PRIMARY KEY,
	seq       INTEGER NOT NULL,
	doc_id    TEXT NOT NULL,
	client_id TEXT NOT NULL,
	body      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_doc ON traces(doc_id);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Config holds configuration for a SQLite database.
type Config struct {
	// Path is the database file. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in RAM for the life of the DB.
	InMemory bool

	// Logger receives open and migration messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// DB wraps a *sql.DB with the trace schema applied.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) a database and applies the schema.
//
// Description:
//
//	On-disk databases run in WAL mode with a 5s busy timeout, and the parent
//	directory is created (0750) when missing. The pool is limited to one
//	connection: an in-memory database exists per connection, and the trace
//	store serializes writes anyway.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The opened database. Caller must call Close() when done.
//	error - Non-nil if the path is missing, the file cannot be opened, or
//	        the schema fails to apply.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	if cfg.InMemory {
		dsn = "file::memory:"
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Debug("sqlite database opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// OpenInMemory opens an empty in-memory database.
func OpenInMemory(ctx context.Context) (*DB, error) {
	return Open(ctx, Config{InMemory: true})
}

// Path returns the database file, or "" for in-memory databases.
func (d *DB) Path() string {
	return d.path
}

// Tx runs fn in a transaction and commits if fn returns nil.
//
// Thread Safety: Safe for concurrent use; transactions queue on the single
// connection.
func (d *DB) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
