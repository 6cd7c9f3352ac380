// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records changes to the trace store.
//
// Every create, seed, derived version, and document deletion produces one
// Event, successful or not. Reads are not audited. The default Logger is
// NopLogger; MemoryLogger keeps a bounded in-process history, and
// SlogLogger writes events to a structured logger.
//
// Audit failures never fail the operation being audited.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Event types.
const (
	EventTraceCreate = "trace.create"
	EventTraceSeed   = "trace.seed"
	EventTraceDerive = "trace.derive"
	EventDocDelete   = "document.delete"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event describes one attempted change.
//
// Example:
//
//	audit.Event{
//	    EventType:    audit.EventTraceDerive,
//	    Timestamp:    time.Now().UTC(),
//	    ResourceType: "trace",
//	    ResourceID:   "trc_7f3a9c21",
//	    Outcome:      audit.OutcomeSuccess,
//	    Metadata:     map[string]any{"parent_id": "trc_001"},
//	}
type Event struct {
	// EventType is one of the Event* constants.
	EventType string `json:"event_type"`

	// Timestamp is when the operation finished, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// ResourceType is "trace" or "document".
	ResourceType string `json:"resource_type"`

	// ResourceID is the trace id or doc id. Empty when the operation failed
	// before an id was known.
	ResourceID string `json:"resource_id,omitempty"`

	// Outcome is OutcomeSuccess or OutcomeFailure.
	Outcome string `json:"outcome"`

	// Metadata holds operation-specific details: "kind" (error kind) on
	// failure, "deleted" for document deletes, "parent_id" for derives.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Filter selects events. Zero fields match everything; set fields combine
// with AND.
type Filter struct {
	EventTypes []string
	ResourceID string
	Outcome    string

	// Since is inclusive. Zero means no lower bound.
	Since time.Time

	// Limit caps the result. Zero means no cap.
	Limit int
}

// Matches reports whether e passes every set field of f. Limit is ignored.
func (f Filter) Matches(e Event) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Logger records audit events.
//
// Implementations must be safe for concurrent use and should return
// quickly; Log is called on the request path.
type Logger interface {
	// Log records event. A zero Timestamp is set to the current UTC time.
	Log(ctx context.Context, event Event) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter Filter) ([]Event, error)

	// Flush persists anything buffered. Called on shutdown.
	Flush(ctx context.Context) error
}

// =============================================================================
// NopLogger
// =============================================================================

// NopLogger discards every event.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) error { return nil }

func (NopLogger) Query(context.Context, Filter) ([]Event, error) { return []Event{}, nil }

func (NopLogger) Flush(context.Context) error { return nil }

// =============================================================================
// MemoryLogger
// =============================================================================

// DefaultMemoryCapacity is the number of events MemoryLogger keeps when
// created with a non-positive capacity.
const DefaultMemoryCapacity = 1000

// MemoryLogger keeps the most recent events in memory. Once full, the
// oldest event is dropped for each new one.
//
// Thread Safety: Safe for concurrent use.
type MemoryLogger struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemoryLogger creates a MemoryLogger holding at most capacity events.
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLogger{capacity: capacity}
}

// Log implements Logger.
func (l *MemoryLogger) Log(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
	return nil
}

// Query implements Logger. Events with equal timestamps keep reverse
// insertion order.
func (l *MemoryLogger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	out := make([]Event, 0, len(l.events))
	for i := len(l.events) - 1; i >= 0; i-- {
		if filter.Matches(l.events[i]) {
			out = append(out, l.events[i])
		}
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Flush implements Logger. Nothing is buffered.
func (l *MemoryLogger) Flush(context.Context) error { return nil }

// Len returns the number of retained events.
func (l *MemoryLogger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// =============================================================================
// SlogLogger
// =============================================================================

// SlogLogger writes each event as an Info record with an "audit" group.
// It cannot be queried.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a SlogLogger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Log implements Logger.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		meta := make([]any, 0, len(keys))
		for _, k := range keys {
			meta = append(meta, slog.Any(k, event.Metadata[k]))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	l.logger.InfoContext(ctx, "audit", slog.Group("audit", attrs...))
	return nil
}

// Query implements Logger. Always empty.
func (l *SlogLogger) Query(context.Context, Filter) ([]Event, error) { return []Event{}, nil }

// Flush implements Logger.
func (l *SlogLogger) Flush(context.Context) error { return nil }

var (
	_ Logger = NopLogger{}
	_ Logger = (*MemoryLogger)(nil)
	_ Logger = (*SlogLogger)(nil)
)
