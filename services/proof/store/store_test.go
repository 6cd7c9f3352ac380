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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// version builds a valid trace from the seed with the given identity fields.
func version(t *testing.T, id, docID, clientID string) trace.Trace {
	t.Helper()
	tr, err := trace.MakeSeed(map[string]any{
		"id":       id,
		"docId":    docID,
		"clientId": clientID,
	})
	require.NoError(t, err)
	return tr
}

func ids(traces []trace.Trace) []string {
	out := make([]string, len(traces))
	for i, tr := range traces {
		out[i] = tr.ID
	}
	return out
}

// storeFactories runs a test against every backend.
func storeFactories(t *testing.T) map[string]func() *Store {
	t.Helper()
	return map[string]func() *Store{
		"memory": func() *Store { return New(NewMemoryBackend()) },
		"badger": func() *Store { return New(newTestBadgerBackend(t)) },
		"sqlite": func() *Store { return New(newTestSQLiteBackend(t)) },
	}
}

func TestStore_ListByDoc_NewestFirst(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			_, err := s.Create(ctx, version(t, "A", "d", "c"))
			require.NoError(t, err)
			_, err = s.Create(ctx, version(t, "B", "d", "c"))
			require.NoError(t, err)

			got, err := s.ListByDoc(ctx, "d")
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "A"}, ids(got))
		})
	}
}

func TestStore_ListByDoc_EmptyDocMatchesNothing(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			_, err := s.Create(ctx, version(t, "A", "d", "c"))
			require.NoError(t, err)

			got, err := s.ListByDoc(ctx, "")
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)

			all, err := s.List(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, ids(all))
		})
	}
}

func TestStore_Create_ReturnsStoredTrace(t *testing.T) {
	s := New(nil)
	in := version(t, "trc_x", "d", "c")

	out, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStore_Create_RejectsInvalid(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	bad := version(t, "trc_bad", "d", "c")
	bad.Claims = nil

	_, err := s.Create(ctx, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrSchemaViolation))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Create_OverwriteKeepsPosition(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			for _, id := range []string{"A", "B", "C"} {
				_, err := s.Create(ctx, version(t, id, "d", "c"))
				require.NoError(t, err)
			}

			replacement := version(t, "A", "d", "c")
			replacement.Confidence = trace.ConfidenceHigh
			_, err := s.Create(ctx, replacement)
			require.NoError(t, err)

			got, err := s.ListByDoc(ctx, "d")
			require.NoError(t, err)
			assert.Equal(t, []string{"C", "B", "A"}, ids(got))
			assert.Equal(t, trace.ConfidenceHigh, got[2].Confidence)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestStore_Create_OverwriteAcrossDocuments(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_, err := s.Create(ctx, version(t, "A", "d1", "c"))
	require.NoError(t, err)
	_, err = s.Create(ctx, version(t, "A", "d2", "c"))
	require.NoError(t, err)

	d1, err := s.ListByDoc(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, d1)

	d2, err := s.ListByDoc(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(d2))
}

func TestStore_List_Filter(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	for _, v := range []struct{ id, doc, client string }{
		{"1", "d1", "acme"},
		{"2", "d1", "beta"},
		{"3", "d2", "acme"},
		{"4", "d2", "beta"},
	} {
		_, err := s.Create(ctx, version(t, v.id, v.doc, v.client))
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"4", "3", "2", "1"}},
		{"by doc", Filter{DocID: "d1"}, []string{"2", "1"}},
		{"by client", Filter{ClientID: "acme"}, []string{"3", "1"}},
		{"conjunction", Filter{DocID: "d2", ClientID: "beta"}, []string{"4"}},
		{"no match", Filter{DocID: "d3"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestStore_Get(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_, err := s.Create(ctx, version(t, "trc_1", "d", "c"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "trc_1")
	require.NoError(t, err)
	assert.Equal(t, "trc_1", got.ID)

	_, err = s.Get(ctx, "trc_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_DeleteByDoc_Idempotent(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()

			_, err := s.Create(ctx, version(t, "A", "d", "c"))
			require.NoError(t, err)
			_, err = s.Create(ctx, version(t, "B", "d", "c"))
			require.NoError(t, err)
			_, err = s.Create(ctx, version(t, "C", "other", "c"))
			require.NoError(t, err)

			n, err := s.DeleteByDoc(ctx, "d")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = s.DeleteByDoc(ctx, "d")
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			rest, err := s.ListByDoc(ctx, "other")
			require.NoError(t, err)
			assert.Equal(t, []string{"C"}, ids(rest))
		})
	}
}

func TestStore_DeleteByDoc_UnknownDoc(t *testing.T) {
	s := New(nil)
	n, err := s.DeleteByDoc(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_SeedVersionDeleteScenario(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	seed, err := trace.MakeSeed(nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, seed)
	require.NoError(t, err)

	next, err := trace.Derive(seed, map[string]any{
		"id":         "trc_002",
		"confidence": trace.ConfidenceHigh,
	})
	require.NoError(t, err)
	_, err = s.Create(ctx, next)
	require.NoError(t, err)

	list, err := s.ListByDoc(ctx, "email_2026_02_24_001")
	require.NoError(t, err)
	assert.Equal(t, []string{"trc_002", "trc_001"}, ids(list))

	n, err := s.DeleteByDoc(ctx, "email_2026_02_24_001")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err = s.ListByDoc(ctx, "email_2026_02_24_001")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ReturnedTracesAreCopies(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_, err := s.Create(ctx, version(t, "A", "d", "c"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "A")
	require.NoError(t, err)
	got.Claims[0] = "mutated"
	got.Evidence[0].Title = "mutated"

	again, err := s.Get(ctx, "A")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Claims[0])
	assert.NotEqual(t, "mutated", again.Evidence[0].Title)
}

func TestStore_ContextCancelled(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, version(t, "A", "d", "c"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.List(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.DeleteByDoc(ctx, "d")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_ConcurrentCreates(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, version(t, trace.NewID("trc"), "d", "c"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

type failingBackend struct {
	Backend
}

func (failingBackend) All(context.Context) ([]Record, error) {
	return nil, errors.New("disk on fire")
}

func TestStore_BackendErrorsWrapped(t *testing.T) {
	s := New(failingBackend{Backend: NewMemoryBackend()})
	_, err := s.List(context.Background(), Filter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))
	assert.Contains(t, err.Error(), "disk on fire")
}
