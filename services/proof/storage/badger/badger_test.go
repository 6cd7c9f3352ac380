// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestOpen_RejectsBadDiscardRatio(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.GCDiscardRatio = 1.5
	_, err := Open(cfg)
	require.Error(t, err)
}

func TestConfigFunctions(t *testing.T) {
	cfg := DefaultConfig("/tmp/x")
	assert.Equal(t, "/tmp/x", cfg.Path)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, 5*time.Minute, cfg.GCInterval)
	assert.Equal(t, 0.5, cfg.GCDiscardRatio)

	mem := InMemoryConfig()
	assert.True(t, mem.InMemory)
	assert.Zero(t, mem.GCInterval)
}

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Equal(t, "", db.Path())
}

func TestDB_UpdateAndView(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	err = db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("trace/trc_001"), []byte(`{"id":"trc_001"}`))
	})
	require.NoError(t, err)

	var got []byte
	err = db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("trace/trc_001"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"trc_001"}`, string(got))
}

func TestDB_Update_RollbackOnError(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	boom := errors.New("boom")
	err = db.Update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = db.View(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestDB_ContextCancelled(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = db.Update(ctx, func(txn *badger.Txn) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = db.View(ctx, func(txn *badger.Txn) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDB_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proof")
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 50 * time.Millisecond

	db, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, dir, db.Path())
	require.NoError(t, db.Update(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("meta/seq"), []byte("7"))
	}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	var got string
	require.NoError(t, db.View(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("meta/seq"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			got = string(val)
			return nil
		})
	}))
	assert.Equal(t, "7", got)
}
