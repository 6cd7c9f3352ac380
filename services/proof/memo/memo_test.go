// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

func seed(t *testing.T) trace.Trace {
	t.Helper()
	tr, err := trace.MakeSeed(nil)
	require.NoError(t, err)
	return tr
}

func TestRender_Deterministic(t *testing.T) {
	tr := seed(t)
	a := Render(tr, trace.DefaultDraft)
	b := Render(tr, trace.DefaultDraft)
	assert.Equal(t, a, b)
}

func TestRender_EscapesMarkup(t *testing.T) {
	tr := seed(t)
	tr.Claims = []string{"<script>alert(1)</script>"}
	tr.Evidence[0].Reference = `x" onmouseover="y`

	out := string(Render(tr, "<b>draft</b> & more"))

	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;alert(1)&lt;/script&gt;")
	assert.NotContains(t, out, "<b>draft</b>")
	assert.Contains(t, out, "&lt;b&gt;draft&lt;/b&gt; &amp; more")
	assert.NotContains(t, out, `x" onmouseover`)
}

func TestRender_SectionOrder(t *testing.T) {
	out := string(Render(seed(t), trace.DefaultDraft))

	sections := []string{
		`id="header"`,
		`id="draft"`,
		`id="claims"`,
		`id="evidence"`,
		`id="calculations"`,
		`id="assumptions"`,
		`id="citations"`,
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		require.NotEqual(t, -1, idx, "missing section %s", s)
		assert.Greater(t, idx, last, "section %s out of order", s)
		last = idx
	}
}

func TestRender_IncludesTraceContent(t *testing.T) {
	tr := seed(t)
	out := string(Render(tr, "Hello ACME"))

	for _, want := range []string{
		"org_dytto_demo",
		"client_acme_042",
		"trc_001",
		"email_2026_02_24_001",
		"2 mins ago",
		"confidence: medium",
		"needs_human_review",
		"missing_source",
		"<pre>\nHello ACME</pre>",
		"Q1 sales ledger summary",
		"Runway estimate",
	} {
		assert.Contains(t, out, want)
	}
	for _, c := range tr.Citations {
		assert.Contains(t, out, c)
	}
}

func TestRender_DraftKeepsLeadingNewline(t *testing.T) {
	out := string(Render(seed(t), "\nHi,\n\n  indented"))
	// A parser drops the first newline after <pre>, so the draft's own
	// leading newline has to follow an extra one.
	assert.Contains(t, out, "<pre>\n\nHi,\n\n  indented</pre>")
}

func TestRender_EmptyDraft(t *testing.T) {
	out := string(Render(seed(t), ""))
	assert.Contains(t, out, "<pre>\n</pre>")
	assert.NotContains(t, out, "Quick check-in on VAT")
}

func TestRender_NoExternalReferences(t *testing.T) {
	out := string(Render(seed(t), trace.DefaultDraft))
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "<link")
	assert.NotContains(t, out, "src=")
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		id       string
		want     string
	}{
		{"plain", "client_acme_042", "trc_001", "advisory-memo_client_acme_042_trc_001.html"},
		{"path separators", "acme/../x", "trc 1", "advisory-memo_acme-..-x_trc-1.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := trace.Trace{ClientID: tt.clientID, ID: tt.id}
			assert.Equal(t, tt.want, Filename(tr))
		})
	}
}
