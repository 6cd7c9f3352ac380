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

	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// Record is one stored trace version with its insertion sequence number.
//
// Seq is assigned once, when the id is first inserted, and survives
// overwrites. Listing order is derived from Seq alone.
type Record struct {
	Seq   uint64      `json:"seq"`
	Trace trace.Trace `json:"trace"`
}

// Backend is the persistence layer under a Store.
//
// # Description
//
// Backends are plain keyed storage: they hold records by trace id and hand
// out sequence numbers. Ordering, filtering and validation live in Store.
// Backends are not required to be safe for concurrent use; Store serializes
// every call.
type Backend interface {
	// Get returns the record for id. ok is false when absent.
	Get(ctx context.Context, id string) (rec Record, ok bool, err error)

	// Put inserts or replaces the record keyed by rec.Trace.ID.
	Put(ctx context.Context, rec Record) error

	// All returns every record in unspecified order.
	All(ctx context.Context) ([]Record, error)

	// Delete removes the records with the given ids. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// NextSeq returns a sequence number greater than any handed out before.
	NextSeq(ctx context.Context) (uint64, error)

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)
}

// memoryBackend keeps records in a map. It is the default backend.
type memoryBackend struct {
	records map[string]Record
	seq     uint64
}

// NewMemoryBackend returns an empty process-local backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{records: make(map[string]Record)}
}

func (m *memoryBackend) Get(_ context.Context, id string) (Record, bool, error) {
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false, nil
	}
	return Record{Seq: rec.Seq, Trace: rec.Trace.Clone()}, true, nil
}

func (m *memoryBackend) Put(_ context.Context, rec Record) error {
	m.records[rec.Trace.ID] = Record{Seq: rec.Seq, Trace: rec.Trace.Clone()}
	return nil
}

func (m *memoryBackend) All(_ context.Context) ([]Record, error) {
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, Record{Seq: rec.Seq, Trace: rec.Trace.Clone()})
	}
	return out, nil
}

func (m *memoryBackend) Delete(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *memoryBackend) NextSeq(_ context.Context) (uint64, error) {
	m.seq++
	return m.seq, nil
}

func (m *memoryBackend) Len(_ context.Context) (int, error) {
	return len(m.records), nil
}
