// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	proofbadger "github.com/AleutianAI/ProofMode/services/proof/storage/badger"
)

// Key layout:
//
//	trace/<id>  JSON-encoded Record
//	meta/seq    big-endian uint64, last sequence handed out
var (
	tracePrefix = []byte("trace/")
	seqKey      = []byte("meta/seq")
)

// badgerBackend persists records in BadgerDB.
type badgerBackend struct {
	db *proofbadger.DB
}

// NewBadgerBackend returns a Backend over an opened database.
//
// # Description
//
// The backend does not own db; the caller closes it after the Store is
// no longer used. Records written by a previous process are visible
// immediately, so listing order survives a restart.
//
// # Inputs
//
//   - db: An opened database. Must not be nil.
//
// # Outputs
//
//   - Backend: The badger-backed backend.
func NewBadgerBackend(db *proofbadger.DB) Backend {
	return &badgerBackend{db: db}
}

func traceKey(id string) []byte {
	return append(append([]byte{}, tracePrefix...), id...)
}

func (b *badgerBackend) Get(ctx context.Context, id string) (Record, bool, error) {
	var rec Record
	found := false
	err := b.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	return rec, found, nil
}

func (b *badgerBackend) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Trace.ID, err)
	}
	return b.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(traceKey(rec.Trace.ID), data)
	})
}

func (b *badgerBackend) All(ctx context.Context) ([]Record, error) {
	var out []Record
	err := b.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tracePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *badgerBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.db.Update(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(traceKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerBackend) NextSeq(ctx context.Context) (uint64, error) {
	var next uint64
	err := b.db.Update(ctx, func(txn *badger.Txn) error {
		var last uint64
		item, err := txn.Get(seqKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt sequence value (%d bytes)", len(val))
				}
				last = binary.BigEndian.Uint64(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		next = last + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		return txn.Set(seqKey, buf)
	})
	return next, err
}

func (b *badgerBackend) Len(ctx context.Context) (int, error) {
	n := 0
	err := b.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tracePrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
