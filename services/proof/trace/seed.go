// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"encoding/json"
	"fmt"
)

// SeedDocID is the document the seed trace is filed under.
const SeedDocID = "email_2026_02_24_001"

// DefaultDraft is the demo draft email the seed trace justifies.
const DefaultDraft = `Subject: Quick check-in on VAT + cash runway

Hi ACME team,

Based on recent activity, it looks like VAT payable may increase this quarter due to higher sales volume. I'd also like to flag that cash runway could tighten in the next 6–8 weeks if the current burn continues.

Two quick actions I recommend:
1) Review payment terms and follow-ups for slow-paying customers (especially invoices >45 days).
2) Confirm whether any refunds/credit notes are expected that are not yet reflected.

If you'd like, I can prepare a short advisory memo with the key numbers and references.

Best,
(Accountant)`

// seedBaseline returns the fixed baseline trace. A fresh value is built on
// every call so no caller can alter another caller's seed.
func seedBaseline() Trace {
	return Trace{
		ID:        "trc_001",
		OrgID:     "org_dytto_demo",
		ClientID:  "client_acme_042",
		DocID:     SeedDocID,
		CreatedAt: "2 mins ago",
		Claims: []string{
			"VAT payable likely increased due to higher Q1 sales volume.",
			"Client cash runway may tighten in 6–8 weeks if current burn persists.",
			"Recommend adjusting payment terms for two slow-paying customers.",
		},
		Assumptions: []string{
			"Assuming no major refunds/credit notes not yet recorded.",
			"Assuming payroll remains within ±5% of last month.",
			"Assuming outstanding invoices older than 45 days are at higher default risk.",
		},
		Evidence: []EvidenceItem{
			{
				ID:        "ev_1",
				Title:     "Q1 sales ledger summary",
				Source:    SourceLedger,
				Reference: "exact://ledger/summary?q=2026-Q1",
				Timestamp: "Today, 10:12",
			},
			{
				ID:        "ev_2",
				Title:     "Client email: delayed payment (Customer B)",
				Source:    SourceEmail,
				Reference: "gmail://thread/18c9…",
				Timestamp: "Yesterday, 17:40",
			},
			{
				ID:        "ev_3",
				Title:     "Invoice aging report (last 30 days)",
				Source:    SourceClientFile,
				Reference: "files://acme/invoices/aging-30d.pdf",
				Timestamp: "Today, 09:03",
			},
		},
		Calculations: []CalculationItem{
			{
				ID:      "cal_1",
				Label:   "VAT delta (rough)",
				Formula: "(Sales_Q1 - Sales_Q4) × VAT_rate",
				Result:  "≈ €4,200",
			},
			{
				ID:      "cal_2",
				Label:   "Runway estimate",
				Formula: "Cash_balance ÷ Avg_monthly_burn",
				Result:  "≈ 1.7 months",
			},
		},
		Citations: []string{
			"Belgium VAT guidance: periodic return requirements (high-level)",
			"Firm policy: advisory memos must include source references",
		},
		Confidence: ConfidenceMedium,
		RiskFlags:  []RiskFlag{RiskNeedsHumanReview, RiskMissingSource},
	}
}

// MakeSeed builds the demo baseline trace with overrides applied.
//
// # Description
//
// Overrides are merged shallowly by JSON field name ("docId", "claims", ...)
// on top of the fixed baseline, and the merged result is validated again.
// A caller can never obtain an invalid seed: a bad override yields a
// *ValidationError instead.
//
// # Inputs
//
//   - overrides: JSON field name to replacement value. May be nil.
//     Values may be Go typed (Confidence, []EvidenceItem) or decoded JSON.
//
// # Outputs
//
//   - Trace: The seed trace.
//   - error: *ValidationError if the merged result is invalid.
//
// # Examples
//
//	seed, err := trace.MakeSeed(map[string]any{"clientId": "client_beta_007"})
func MakeSeed(overrides map[string]any) (Trace, error) {
	return Derive(seedBaseline(), overrides)
}

// Derive builds a new trace from base with overrides applied.
//
// # Description
//
// Derive is copy-with-overrides: base is converted to its JSON field map,
// overrides replace whole top-level fields, and the result is validated.
// base itself is never modified. Callers that create a new version must
// supply a new "id" override (see NewID); Derive does not invent one.
//
// # Inputs
//
//   - base: The trace to copy.
//   - overrides: JSON field name to replacement value. May be nil.
//
// # Outputs
//
//   - Trace: The derived trace.
//   - error: *ValidationError if the merged result is invalid.
func Derive(base Trace, overrides map[string]any) (Trace, error) {
	merged, err := fieldMap(base)
	if err != nil {
		return Trace{}, rootIssue(err.Error())
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return Validate(merged)
}

// fieldMap converts t into its JSON field map.
func fieldMap(t Trace) (map[string]any, error) {
	data, err := json.Marshal(t.Clone())
	if err != nil {
		return nil, fmt.Errorf("encode trace: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return m, nil
}
