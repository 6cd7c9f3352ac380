// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of spans opened by the trace
// service.
const TracerName = MeterName

// StartOperation opens the span for one trace service operation, named
// "proof.<op>". The caller ends the span.
func StartOperation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "proof."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// FailOperation marks span as failed with the error kind of the operation.
// A nil err leaves the span untouched.
func FailOperation(span trace.Span, kind string, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(attribute.String("error.kind", kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
}
