// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// =============================================================================
// Tee
// =============================================================================

type tee []Logger

// Tee returns a Logger that records every event to each of loggers in
// order. Query is answered by the first logger; nil loggers are skipped.
func Tee(loggers ...Logger) Logger {
	var t tee
	for _, l := range loggers {
		if l != nil {
			t = append(t, l)
		}
	}
	if len(t) == 0 {
		return NopLogger{}
	}
	return t
}

func (t tee) Log(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	var errs []error
	for _, l := range t {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Query(ctx context.Context, filter Filter) ([]Event, error) {
	return t[0].Query(ctx, filter)
}

func (t tee) Flush(ctx context.Context) error {
	var errs []error
	for _, l := range t {
		if err := l.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Hub
// =============================================================================

// DefaultSubscriberBuffer is the per-subscriber queue length used when
// NewHub is given a non-positive size.
const DefaultSubscriberBuffer = 64

// Hub fans audit events out to live subscribers, such as the audit stream
// endpoint. It keeps no history.
//
// A subscriber that falls behind by more than its buffer misses events
// rather than stalling the audited operation; Dropped counts them.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped uint64
	closed  bool
}

// NewHub creates a Hub whose subscribers each queue up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber. Events logged after Subscribe returns
// are delivered on the channel until cancel is called or the Hub is
// closed, after which the channel is closed. cancel is idempotent.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Log implements Logger.
func (h *Hub) Log(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.dropped++
		}
	}
	return nil
}

// Query implements Logger. A Hub keeps no history, so it is always empty.
func (h *Hub) Query(context.Context, Filter) ([]Event, error) { return []Event{}, nil }

// Flush implements Logger.
func (h *Hub) Flush(context.Context) error { return nil }

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// queue was full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close ends every subscription. Later subscriptions receive an already
// closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

var (
	_ Logger = tee(nil)
	_ Logger = (*Hub)(nil)
)
