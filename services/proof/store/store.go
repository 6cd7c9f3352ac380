// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store keeps advisory trace versions, keyed by document.
//
// Every version of every document lives in one id space. Versions of a
// document are listed newest first, where "newest" means most recently
// inserted; the CreatedAt label is never parsed. Writing an id that already
// exists replaces that version in place without moving it in the listing.
//
// A Store serializes all operations with a single lock. The persistence
// layer is pluggable (see Backend): memory by default, BadgerDB when the
// service is started with a data directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// ===== Errors =====

var (
	// ErrNotFound is returned when no version has the requested id.
	ErrNotFound = errors.New("trace not found")

	// ErrBackend wraps every failure of the underlying Backend.
	ErrBackend = errors.New("store backend failure")
)

// ===== Store =====

// Filter selects versions by exact match. Empty fields match everything.
type Filter struct {
	DocID    string
	ClientID string
}

func (f Filter) match(t trace.Trace) bool {
	if f.DocID != "" && t.DocID != f.DocID {
		return false
	}
	if f.ClientID != "" && t.ClientID != f.ClientID {
		return false
	}
	return true
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store events. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is the trace repository.
//
// Thread Safety: Safe for concurrent use. Operations are linearizable.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *slog.Logger
}

// New creates a Store over backend. A nil backend selects NewMemoryBackend.
func New(backend Backend, opts ...Option) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackend, err)
}

// Create validates t and stores it.
//
// # Description
//
// Validation runs before anything is touched; a rejected trace leaves the
// store unchanged. A new id is appended as the newest version. An existing
// id (in any document) is overwritten and keeps its original position.
//
// # Inputs
//
//   - ctx: Checked before the operation starts.
//   - t: The trace to store.
//
// # Outputs
//
//   - trace.Trace: The stored trace, equal to the validated input.
//   - error: *trace.ValidationError, ErrBackend, or a context error.
//
// # Examples
//
//	saved, err := s.Create(ctx, seed)
func (s *Store) Create(ctx context.Context, t trace.Trace) (trace.Trace, error) {
	if err := ctx.Err(); err != nil {
		return trace.Trace{}, err
	}
	valid, err := trace.Validate(t)
	if err != nil {
		return trace.Trace{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.backend.Get(ctx, valid.ID)
	if err != nil {
		return trace.Trace{}, backendErr("create", err)
	}
	seq := existing.Seq
	if !ok {
		seq, err = s.backend.NextSeq(ctx)
		if err != nil {
			return trace.Trace{}, backendErr("create", err)
		}
	}
	if err := s.backend.Put(ctx, Record{Seq: seq, Trace: valid}); err != nil {
		return trace.Trace{}, backendErr("create", err)
	}

	s.logger.Debug("trace stored",
		slog.String("trace_id", valid.ID),
		slog.String("doc_id", valid.DocID),
		slog.Bool("overwrite", ok),
	)
	return valid.Clone(), nil
}

// ListByDoc returns every version of docID, newest first. docID is matched
// exactly, so "" matches nothing.
func (s *Store) ListByDoc(ctx context.Context, docID string) ([]trace.Trace, error) {
	if docID == "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []trace.Trace{}, nil
	}
	return s.List(ctx, Filter{DocID: docID})
}

// List returns the versions matching f, newest first.
//
// The result is never nil; no match yields an empty slice.
func (s *Store) List(ctx context.Context, f Filter) ([]trace.Trace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.backend.All(ctx)
	if err != nil {
		return nil, backendErr("list", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq > recs[j].Seq })

	out := make([]trace.Trace, 0, len(recs))
	for _, rec := range recs {
		if f.match(rec.Trace) {
			out = append(out, rec.Trace.Clone())
		}
	}
	return out, nil
}

// Get returns the version with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (trace.Trace, error) {
	if err := ctx.Err(); err != nil {
		return trace.Trace{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return trace.Trace{}, backendErr("get", err)
	}
	if !ok {
		return trace.Trace{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec.Trace.Clone(), nil
}

// DeleteByDoc removes every version of docID and returns how many were
// removed. Deleting an unknown document is not an error and returns 0.
func (s *Store) DeleteByDoc(ctx context.Context, docID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.backend.All(ctx)
	if err != nil {
		return 0, backendErr("delete", err)
	}
	var ids []string
	for _, rec := range recs {
		if rec.Trace.DocID == docID {
			ids = append(ids, rec.Trace.ID)
		}
	}
	if err := s.backend.Delete(ctx, ids); err != nil {
		return 0, backendErr("delete", err)
	}

	s.logger.Debug("traces deleted",
		slog.String("doc_id", docID),
		slog.Int("count", len(ids)),
	)
	return len(ids), nil
}

// Count returns the number of stored versions across all documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.backend.Len(ctx)
	if err != nil {
		return 0, backendErr("count", err)
	}
	return n, nil
}
