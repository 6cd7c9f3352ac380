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
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of all proof service metrics.
const MeterName = "github.com/AleutianAI/ProofMode/services/proof"

// Metrics contains the instruments for the proof service.
//
// Description:
//
//	HTTP request instruments feed the gin middleware; operation instruments
//	are recorded by the facade for every trace operation. All names use the
//	"proof_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks in-flight HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Trace Operation Metrics ---

	// OperationsTotal counts facade operations by operation and outcome.
	OperationsTotal metric.Int64Counter

	// OperationDuration records facade operation duration in seconds,
	// including any simulated delay.
	OperationDuration metric.Float64Histogram

	// DisruptionsTotal counts simulated transport failures.
	DisruptionsTotal metric.Int64Counter
}

// NewMetrics creates all instruments on meter.
//
// Inputs:
//
//	meter - The OTel meter. Use otel.Meter(MeterName) in production.
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if an instrument cannot be created.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"proof_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"proof_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"proof_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.OperationsTotal, err = meter.Int64Counter(
		"proof_trace_operations_total",
		metric.WithDescription("Trace service operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace_operations_total: %w", err)
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"proof_trace_operation_duration_seconds",
		metric.WithDescription("Trace service operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace_operation_duration: %w", err)
	}

	m.DisruptionsTotal, err = meter.Int64Counter(
		"proof_simulated_disruptions_total",
		metric.WithDescription("Simulated transport failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create simulated_disruptions_total: %w", err)
	}

	return m, nil
}

// DefaultMetrics creates Metrics on the global meter provider.
func DefaultMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// RecordOperation records one facade operation.
//
// outcome is "ok" or the failure kind (e.g. "SchemaViolation").
func (m *Metrics) RecordOperation(ctx context.Context, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	m.OperationsTotal.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDisruption counts one simulated transport failure for op.
func (m *Metrics) RecordDisruption(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.DisruptionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// RegisterStoredTraces registers an observable gauge reporting the number
// of stored trace versions, read from count at collection time.
func RegisterStoredTraces(meter metric.Meter, count func(context.Context) (int, error)) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(
		"proof_stored_traces",
		metric.WithDescription("Trace versions currently stored"),
		metric.WithUnit("{trace}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stored_traces: %w", err)
	}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := count(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, int64(n))
		return nil
	}, gauge)
}
