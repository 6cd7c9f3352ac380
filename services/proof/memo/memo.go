// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memo renders a trace and its draft as a standalone HTML memo.
//
// The output is a single self-contained page (inline CSS, no scripts, no
// external references) suitable for download or archiving. Rendering is a
// pure function of its inputs.
package memo

import (
	"bytes"
	_ "embed"
	"html/template"
	"regexp"

	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// ContentType is the media type of a rendered memo.
const ContentType = "text/html; charset=utf-8"

//go:embed templates/memo.html.tmpl
var memoTemplateSource string

var memoTemplate = template.Must(template.New("memo").Parse(memoTemplateSource))

type memoData struct {
	Trace trace.Trace
	Draft string
}

// Render returns the HTML memo for t and draft.
//
// # Description
//
// Sections appear in a fixed order: header (org, client, trace id, doc id,
// createdAt, confidence, risk flags), the draft verbatim inside <pre>,
// claims, evidence, calculations, assumptions, citations. Every text value
// is contextually escaped by html/template, so markup inside a claim or the
// draft renders as text.
//
// The same (t, draft) always yields byte-identical output.
//
// # Inputs
//
//   - t: A validated trace. Render does not re-validate.
//   - draft: The draft message, rendered verbatim.
//
// # Outputs
//
//   - []byte: UTF-8 HTML document.
//
// # Limitations
//
// Panics if the embedded template fails to execute, which can only happen
// if the template itself is broken.
func Render(t trace.Trace, draft string) []byte {
	var buf bytes.Buffer
	if err := memoTemplate.Execute(&buf, memoData{Trace: t, Draft: draft}); err != nil {
		panic("memo: execute template: " + err.Error())
	}
	return buf.Bytes()
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Filename returns the download name for t's memo:
// "advisory-memo_<clientId>_<id>.html". Characters outside [A-Za-z0-9._-]
// are replaced with "-".
func Filename(t trace.Trace) string {
	client := unsafeFilenameChars.ReplaceAllString(t.ClientID, "-")
	id := unsafeFilenameChars.ReplaceAllString(t.ID, "-")
	return "advisory-memo_" + client + "_" + id + ".html"
}
