// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facade is the request-level API of the trace service.
//
// Every operation returns a response value carrying OK plus either its
// payload or a human-readable Error, never a Go error. Failures are
// classified by Kind so transports can choose a status code without
// inspecting messages. Before each operation the facade passes through a
// Disruptor, which may delay or fail the call to simulate an unreliable
// network.
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ProofMode/services/proof/audit"
	"github.com/AleutianAI/ProofMode/services/proof/memo"
	"github.com/AleutianAI/ProofMode/services/proof/store"
	"github.com/AleutianAI/ProofMode/services/proof/telemetry"
	prooftrace "github.com/AleutianAI/ProofMode/services/proof/trace"
)

// ===== Errors =====

var (
	// ErrTransport marks failures injected between caller and store.
	ErrTransport = errors.New("transport failure")

	// ErrMissingDocID is returned by DeleteByDoc when docID is empty.
	ErrMissingDocID = errors.New("Missing docId") //nolint:staticcheck // user-facing text
)

// transportError keeps the cause's message while matching ErrTransport.
type transportError struct {
	cause error
}

func (e *transportError) Error() string   { return e.cause.Error() }
func (e *transportError) Unwrap() []error { return []error{ErrTransport, e.cause} }

// ===== Responses =====

// Kind classifies a failed operation.
type Kind string

const (
	KindNone             Kind = ""
	KindSchemaViolation  Kind = "SchemaViolation"
	KindNotFound         Kind = "NotFound"
	KindTransportFailure Kind = "TransportFailure"
	KindInternal         Kind = "Internal"
)

// Result is the envelope shared by every response.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Kind  Kind   `json:"-"`
}

// TraceResponse carries a single trace.
type TraceResponse struct {
	Result
	Trace *prooftrace.Trace `json:"trace,omitempty"`
}

// ListResponse carries traces, newest first.
type ListResponse struct {
	Result
	Traces []prooftrace.Trace `json:"traces"`
}

// DeleteResponse carries the number of removed versions.
type DeleteResponse struct {
	Result
	Deleted int `json:"deleted"`
}

// MemoResponse carries a rendered memo.
type MemoResponse struct {
	Result
	HTML     []byte `json:"-"`
	Filename string `json:"filename,omitempty"`
}

// ===== Facade =====

// Disruptor may delay or fail a call before it reaches the store.
type Disruptor interface {
	Disrupt(ctx context.Context) error
}

type noDisruption struct{}

func (noDisruption) Disrupt(context.Context) error { return nil }

// Option configures a Facade.
type Option func(*Facade)

// WithDisruptor sets the instability collaborator. Default: none.
func WithDisruptor(d Disruptor) Option {
	return func(f *Facade) {
		if d != nil {
			f.disruptor = d
		}
	}
}

// WithMetrics records every operation on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithAuditor records every mutating operation on l. Default: audit.NopLogger.
func WithAuditor(l audit.Logger) Option {
	return func(f *Facade) {
		if l != nil {
			f.auditor = l
		}
	}
}

// WithClock sets the clock used for CreatedAt labels of new versions.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		if now != nil {
			f.now = now
		}
	}
}

// Facade exposes the trace store as request/response operations.
//
// Thread Safety: Safe for concurrent use.
type Facade struct {
	store     *store.Store
	disruptor Disruptor
	metrics   *telemetry.Metrics
	auditor   audit.Logger
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Facade over s.
func New(s *store.Store, opts ...Option) *Facade {
	f := &Facade{
		store:     s,
		disruptor: noDisruption{},
		auditor:   audit.NopLogger{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// call is the per-operation bookkeeping shared by every method.
type call struct {
	f     *Facade
	op    string
	ctx   context.Context
	span  trace.Span
	start time.Time

	// Set for mutating operations; end records them on the auditor.
	event        string
	resourceType string
	resourceID   string
	meta         map[string]any
}

// audited marks c as a mutating operation on resourceType.
func (c *call) audited(event, resourceType, resourceID string) *call {
	c.event = event
	c.resourceType = resourceType
	c.resourceID = resourceID
	return c
}

// begin opens the span and runs the disruptor.
func (f *Facade) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (*call, error) {
	ctx, span := telemetry.StartOperation(ctx, op, attrs...)
	c := &call{f: f, op: op, ctx: ctx, span: span, start: time.Now()}

	if err := f.disruptor.Disrupt(ctx); err != nil {
		f.metrics.RecordDisruption(ctx, op)
		return c, &transportError{cause: err}
	}
	return c, nil
}

// end classifies err, records it, and returns the response envelope.
func (c *call) end(err error) Result {
	defer c.span.End()

	if err == nil {
		c.f.metrics.RecordOperation(c.ctx, c.op, "ok", time.Since(c.start))
		c.record(audit.OutcomeSuccess, nil)
		return Result{OK: true}
	}

	kind, msg := classify(err)
	c.record(audit.OutcomeFailure, map[string]any{"kind": string(kind)})
	telemetry.FailOperation(c.span, string(kind), err)
	c.f.metrics.RecordOperation(c.ctx, c.op, string(kind), time.Since(c.start))

	level := slog.LevelInfo
	if kind == KindInternal {
		level = slog.LevelError
	}
	c.f.logger.Log(c.ctx, level, "trace operation failed",
		slog.String("operation", c.op),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	return Result{OK: false, Error: msg, Kind: kind}
}

// record sends the audit event for a mutating call. Audit failures are
// logged and otherwise ignored.
func (c *call) record(outcome string, extra map[string]any) {
	if c.event == "" {
		return
	}
	meta := c.meta
	if len(extra) > 0 {
		meta = make(map[string]any, len(c.meta)+len(extra))
		for k, v := range c.meta {
			meta[k] = v
		}
		for k, v := range extra {
			meta[k] = v
		}
	}
	ev := audit.Event{
		EventType:    c.event,
		Timestamp:    time.Now().UTC(),
		ResourceType: c.resourceType,
		ResourceID:   c.resourceID,
		Outcome:      outcome,
		Metadata:     meta,
	}
	if err := c.f.auditor.Log(context.WithoutCancel(c.ctx), ev); err != nil {
		c.f.logger.Warn("audit log failed",
			slog.String("operation", c.op),
			slog.String("error", err.Error()),
		)
	}
}

// classify maps an error to its Kind and the message shown to callers.
func classify(err error) (Kind, string) {
	var verr *prooftrace.ValidationError
	switch {
	case errors.As(err, &verr):
		return KindSchemaViolation, verr.Error()
	case errors.Is(err, ErrMissingDocID):
		return KindSchemaViolation, ErrMissingDocID.Error()
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound, "Trace not found"
	case errors.Is(err, ErrTransport):
		return KindTransportFailure, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTransportFailure, err.Error()
	default:
		return KindInternal, "Server error"
	}
}

// Create validates raw and stores it.
//
// # Description
//
// raw may be anything trace.Validate accepts: decoded JSON, a Trace, or
// JSON bytes. Nothing is stored unless validation succeeds.
//
// # Outputs
//
//   - TraceResponse: The stored trace, or SchemaViolation with the issue
//     summary, or TransportFailure.
func (f *Facade) Create(ctx context.Context, raw any) TraceResponse {
	c, err := f.begin(ctx, "create")
	c.audited(audit.EventTraceCreate, "trace", "")
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}

	valid, err := prooftrace.Validate(raw)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}
	c.resourceID = valid.ID
	saved, err := f.store.Create(c.ctx, valid)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}
	c.span.SetAttributes(
		attribute.String("trace.id", saved.ID),
		attribute.String("trace.doc_id", saved.DocID),
	)
	return TraceResponse{Result: c.end(nil), Trace: &saved}
}

// CreateJSON is Create for a raw request body. Malformed JSON is a
// SchemaViolation with a single root issue.
func (f *Facade) CreateJSON(ctx context.Context, body []byte) TraceResponse {
	return f.Create(ctx, json.RawMessage(body))
}

// List returns versions matching filter, newest first.
func (f *Facade) List(ctx context.Context, filter store.Filter) ListResponse {
	c, err := f.begin(ctx, "list",
		attribute.String("filter.doc_id", filter.DocID),
		attribute.String("filter.client_id", filter.ClientID),
	)
	if err != nil {
		return ListResponse{Result: c.end(err)}
	}

	traces, err := f.store.List(c.ctx, filter)
	if err != nil {
		return ListResponse{Result: c.end(err)}
	}
	c.span.SetAttributes(attribute.Int("result.count", len(traces)))
	return ListResponse{Result: c.end(nil), Traces: traces}
}

// Get returns one version by id. Unknown ids yield NotFound.
func (f *Facade) Get(ctx context.Context, id string) TraceResponse {
	c, err := f.begin(ctx, "get", attribute.String("trace.id", id))
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}

	t, err := f.store.Get(c.ctx, id)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}
	return TraceResponse{Result: c.end(nil), Trace: &t}
}

// DeleteByDoc removes every version of docID. An empty docID is rejected
// with "Missing docId"; an unknown docID deletes nothing and succeeds.
func (f *Facade) DeleteByDoc(ctx context.Context, docID string) DeleteResponse {
	c, err := f.begin(ctx, "delete", attribute.String("trace.doc_id", docID))
	c.audited(audit.EventDocDelete, "document", docID)
	if err != nil {
		return DeleteResponse{Result: c.end(err)}
	}
	if docID == "" {
		return DeleteResponse{Result: c.end(ErrMissingDocID)}
	}

	n, err := f.store.DeleteByDoc(c.ctx, docID)
	if err != nil {
		return DeleteResponse{Result: c.end(err)}
	}
	c.span.SetAttributes(attribute.Int("result.deleted", n))
	c.meta = map[string]any{"deleted": n}
	return DeleteResponse{Result: c.end(nil), Deleted: n}
}

// Seed stores the demo seed trace with overrides applied.
func (f *Facade) Seed(ctx context.Context, overrides map[string]any) TraceResponse {
	c, err := f.begin(ctx, "seed")
	c.audited(audit.EventTraceSeed, "trace", "")
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}

	seed, err := prooftrace.MakeSeed(overrides)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}
	c.resourceID = seed.ID
	saved, err := f.store.Create(c.ctx, seed)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}
	return TraceResponse{Result: c.end(nil), Trace: &saved}
}

// NewVersion derives a new version from the stored trace id.
//
// # Description
//
// The stored trace is copied with overrides applied. Unless overridden,
// the new version gets a fresh "trc_" id and a CreatedAt label for the
// current time. The result is validated and stored as the newest version
// of its document.
//
// # Inputs
//
//   - id: The version to derive from. Unknown ids yield NotFound.
//   - overrides: JSON field name to replacement value. May be nil.
func (f *Facade) NewVersion(ctx context.Context, id string, overrides map[string]any) TraceResponse {
	c, err := f.begin(ctx, "new_version", attribute.String("trace.parent_id", id))
	c.audited(audit.EventTraceDerive, "trace", "")
	c.meta = map[string]any{"parent_id": id}
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}

	base, err := f.store.Get(c.ctx, id)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}

	merged := make(map[string]any, len(overrides)+2)
	merged["id"] = prooftrace.NewID("trc")
	merged["createdAt"] = prooftrace.NowLabel(f.now())
	for k, v := range overrides {
		merged[k] = v
	}

	next, err := prooftrace.Derive(base, merged)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}
	c.resourceID = next.ID
	saved, err := f.store.Create(c.ctx, next)
	if err != nil {
		return TraceResponse{Result: c.end(err)}
	}
	c.span.SetAttributes(attribute.String("trace.id", saved.ID))
	return TraceResponse{Result: c.end(nil), Trace: &saved}
}

// Memo renders the stored trace id with draft. The draft is rendered as
// given, including the empty string.
func (f *Facade) Memo(ctx context.Context, id, draft string) MemoResponse {
	c, err := f.begin(ctx, "memo", attribute.String("trace.id", id))
	if err != nil {
		return MemoResponse{Result: c.end(err)}
	}

	t, err := f.store.Get(c.ctx, id)
	if err != nil {
		return MemoResponse{Result: c.end(err)}
	}
	return MemoResponse{
		Result:   c.end(nil),
		HTML:     memo.Render(t, draft),
		Filename: memo.Filename(t),
	}
}

// Count returns the number of stored versions. It bypasses the disruptor
// and is meant for health checks and metrics.
func (f *Facade) Count(ctx context.Context) (int, error) {
	return f.store.Count(ctx)
}
