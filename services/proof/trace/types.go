// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace defines the advisory trace data model and its schema.
//
// # Description
//
// An advisory trace is the structured justification that accompanies an
// AI-generated draft: the claims made, the evidence and calculations that
// support them, the assumptions and citations behind them, plus a confidence
// rating and machine-readable risk flags.
//
// The package owns three things:
//   - The Trace value types (closed enums for Confidence, RiskFlag and
//     EvidenceSource)
//   - Validate, which turns untyped input into a Trace or a ValidationError
//   - MakeSeed and Derive, the only two ways new Trace values are built
//
// # Immutability
//
// A Trace is treated as immutable once validated. "Updating" a trace means
// building a new Trace with a new ID under the same DocID (see Derive).
// Clone returns a deep copy so stored versions never share slices with callers.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package trace

// =============================================================================
// Enumerations
// =============================================================================

// Confidence is the overall confidence rating of a Trace.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Confidences lists every Confidence in declaration order.
var Confidences = []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow}

// Valid reports whether c is one of the declared confidence values.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// RiskFlag is a machine-readable caution marker attached to a Trace.
type RiskFlag string

const (
	RiskHallucination    RiskFlag = "hallucination_risk"
	RiskMissingSource    RiskFlag = "missing_source"
	RiskNeedsHumanReview RiskFlag = "needs_human_review"
)

// RiskFlags lists every RiskFlag in declaration order.
var RiskFlags = []RiskFlag{RiskHallucination, RiskMissingSource, RiskNeedsHumanReview}

// Valid reports whether f is one of the declared risk flags.
func (f RiskFlag) Valid() bool {
	switch f {
	case RiskHallucination, RiskMissingSource, RiskNeedsHumanReview:
		return true
	default:
		return false
	}
}

// EvidenceSource identifies where an evidence item was found.
type EvidenceSource string

const (
	SourceEmail      EvidenceSource = "Email"
	SourceLedger     EvidenceSource = "Ledger"
	SourceClientFile EvidenceSource = "Client File"
	SourceCalendar   EvidenceSource = "Calendar"
)

// EvidenceSources lists every EvidenceSource in declaration order.
var EvidenceSources = []EvidenceSource{SourceEmail, SourceLedger, SourceClientFile, SourceCalendar}

// Valid reports whether s is one of the declared evidence sources.
func (s EvidenceSource) Valid() bool {
	switch s {
	case SourceEmail, SourceLedger, SourceClientFile, SourceCalendar:
		return true
	default:
		return false
	}
}

// =============================================================================
// Trace Types
// =============================================================================

// EvidenceItem is one piece of supporting evidence.
//
// Reference is an opaque locator (URL, message id, file path). Timestamp is a
// display label and is never parsed.
type EvidenceItem struct {
	ID        string         `json:"id" validate:"required"`
	Title     string         `json:"title" validate:"required"`
	Source    EvidenceSource `json:"source" validate:"evidencesource"`
	Reference string         `json:"reference" validate:"required"`
	Timestamp string         `json:"timestamp" validate:"required"`
}

// CalculationItem is a pre-computed calculation shown alongside the claims.
//
// Formula is human-readable and never evaluated; Result is not checked
// numerically.
type CalculationItem struct {
	ID      string `json:"id" validate:"required"`
	Label   string `json:"label" validate:"required"`
	Formula string `json:"formula" validate:"required"`
	Result  string `json:"result" validate:"required"`
}

// Trace is the advisory trace aggregate root.
//
// # Fields
//
//   - ID: Unique per version. Distinct from DocID.
//   - OrgID, ClientID: Ownership labels.
//   - DocID: The document this version belongs to. Versioning key.
//   - CreatedAt: Display label only. No ordering is ever derived from it.
//   - Claims, Assumptions, Citations: At least one non-empty string each.
//   - Evidence, Calculations: At least one item each.
//   - Confidence: Closed enum.
//   - RiskFlags: Closed enum values; may be empty, duplicates allowed.
type Trace struct {
	ID           string            `json:"id" validate:"required"`
	OrgID        string            `json:"orgId" validate:"required"`
	ClientID     string            `json:"clientId" validate:"required"`
	DocID        string            `json:"docId" validate:"required"`
	CreatedAt    string            `json:"createdAt" validate:"required"`
	Claims       []string          `json:"claims" validate:"min=1,dive,required"`
	Assumptions  []string          `json:"assumptions" validate:"min=1,dive,required"`
	Evidence     []EvidenceItem    `json:"evidence" validate:"min=1,dive"`
	Calculations []CalculationItem `json:"calculations" validate:"min=1,dive"`
	Citations    []string          `json:"citations" validate:"min=1,dive,required"`
	Confidence   Confidence        `json:"confidence" validate:"confidence"`
	RiskFlags    []RiskFlag        `json:"riskFlags" validate:"dive,riskflag"`
}

// Clone returns a deep copy of t.
//
// RiskFlags is always non-nil in the copy so a cloned Trace serializes
// "riskFlags": [] rather than null.
func (t Trace) Clone() Trace {
	out := t
	out.Claims = append([]string(nil), t.Claims...)
	out.Assumptions = append([]string(nil), t.Assumptions...)
	out.Citations = append([]string(nil), t.Citations...)
	out.Evidence = append([]EvidenceItem(nil), t.Evidence...)
	out.Calculations = append([]CalculationItem(nil), t.Calculations...)
	out.RiskFlags = append(make([]RiskFlag, 0, len(t.RiskFlags)), t.RiskFlags...)
	return out
}
