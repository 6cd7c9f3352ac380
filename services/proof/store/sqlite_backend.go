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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	proofsqlite "github.com/AleutianAI/ProofMode/services/proof/storage/sqlite"
	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// sqliteBackend persists records in the traces table. The sequence counter
// lives in meta under "seq".
type sqliteBackend struct {
	db *proofsqlite.DB
}

// NewSQLiteBackend returns a Backend over an opened database. The caller
// keeps ownership of db.
func NewSQLiteBackend(db *proofsqlite.DB) Backend {
	return &sqliteBackend{db: db}
}

func scanRecord(seq uint64, body string) (Record, error) {
	var t trace.Trace
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return Record{}, err
	}
	return Record{Seq: seq, Trace: t}, nil
}

func (b *sqliteBackend) Get(ctx context.Context, id string) (Record, bool, error) {
	var (
		seq  uint64
		body string
	)
	err := b.db.QueryRowContext(ctx, `SELECT seq, body FROM traces WHERE id = ?`, id).Scan(&seq, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	rec, err := scanRecord(seq, body)
	if err != nil {
		return Record{}, false, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, true, nil
}

func (b *sqliteBackend) Put(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec.Trace)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Trace.ID, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO traces (id, seq, doc_id, client_id, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seq = excluded.seq,
			doc_id = excluded.doc_id,
			client_id = excluded.client_id,
			body = excluded.body`,
		rec.Trace.ID, rec.Seq, rec.Trace.DocID, rec.Trace.ClientID, string(body))
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Trace.ID, err)
	}
	return nil
}

func (b *sqliteBackend) All(ctx context.Context) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, seq, body FROM traces`)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id   string
			seq  uint64
			body string
		)
		if err := rows.Scan(&id, &seq, &body); err != nil {
			return nil, err
		}
		rec, err := scanRecord(seq, body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM traces WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func (b *sqliteBackend) NextSeq(ctx context.Context) (uint64, error) {
	var next uint64
	err := b.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES ('seq', 1)
			ON CONFLICT(key) DO UPDATE SET value = value + 1`)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'seq'`).Scan(&next)
	})
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return next, nil
}

func (b *sqliteBackend) Len(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&n)
	return n, err
}
