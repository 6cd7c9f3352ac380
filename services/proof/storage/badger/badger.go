// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the embedded BadgerDB used to keep trace
// versions across restarts.
//
// The trace store works fully in memory by default. When the service is
// started with the badger backend, this package owns the database lifecycle:
// opening (on disk or in memory), periodic value log GC, and transaction
// helpers that check the caller's context before starting.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests and the "badger-mem"
	// store mode.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns the on-disk configuration used by `proof serve`.
//
// Description:
//
//	SyncWrites on, GC every 5 minutes at a 0.5 discard ratio.
//
// Inputs:
//
//	path - Directory for database files.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration with no disk I/O and GC disabled.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger forwards BadgerDB's printf-style logging to slog. Badger's
// info output is chatty, so it is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) emit(level slog.Level, format string, args []interface{}) {
	l.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.emit(slog.LevelError, format, args)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.emit(slog.LevelWarn, format, args)
}

func (l badgerLogger) Infof(format string, args ...interface{}) { l.emit(slog.LevelDebug, format, args) }

func (l badgerLogger) Debugf(format string, args ...interface{}) { l.emit(slog.LevelDebug, format, args) }

// DB wraps a BadgerDB instance with lifecycle management.
type DB struct {
	*badger.DB
	path     string
	inMemory bool
	stopGC   chan struct{}
	gcDone   chan struct{}
}

// Open opens a database and starts the GC loop when configured.
//
// Description:
//
//	Creates the data directory (0750) when needed. GC only runs for on-disk
//	databases with a positive GCInterval.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The opened database. Caller must call Close() when done.
//	error - Non-nil if the path is missing or BadgerDB fails to open.
//
// Thread Safety: The returned *DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	if cfg.GCDiscardRatio < 0 || cfg.GCDiscardRatio > 1 {
		return nil, errors.New("gc discard ratio must be between 0 and 1")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{DB: bdb, path: cfg.Path, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.stopGC = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return db, nil
}

// OpenInMemory opens an in-memory database. Data is lost on Close.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

func (d *DB) gcLoop(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			err := d.DB.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC (if running) and closes the database.
func (d *DB) Close() error {
	if d.stopGC != nil {
		close(d.stopGC)
		<-d.gcDone
		d.stopGC = nil
	}
	return d.DB.Close()
}

// Path returns the database directory, or "" for in-memory databases.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether the database keeps no files.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// Update runs fn in a read-write transaction and commits if fn returns nil.
//
// Description:
//
//	The context is checked once before the transaction starts. A started
//	transaction always runs to commit or discard so no partial write is
//	ever visible.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return d.run(ctx, true, fn)
}

// View runs fn in a read-only transaction.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return d.run(ctx, false, fn)
}

func (d *DB) run(ctx context.Context, write bool, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("trace db: %w", err)
	}
	txn := d.DB.NewTransaction(write)
	defer txn.Discard()

	if err := fn(txn); err != nil || !write {
		return err
	}
	return txn.Commit()
}
