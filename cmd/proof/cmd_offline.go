// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ProofMode/services/proof/memo"
	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// =============================================================================
// validate
// =============================================================================

type validateResult struct {
	OK     bool          `json:"ok"`
	Issues []trace.Issue `json:"issues,omitempty"`
}

func newValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <trace.json|->",
		Short: "Check a trace file against the schema",
		Long: `Validates a trace JSON document and lists at most five issues, each
with its field path. Exits non-zero when the trace is invalid.

Examples:
  proof validate trace.json
  proof seed | proof validate -
  proof validate --json trace.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadTrace(cmd, args[0])
			var verr *trace.ValidationError
			if err != nil && !errors.As(err, &verr) {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				res := validateResult{OK: verr == nil}
				if verr != nil {
					res.Issues = verr.Issues
				}
				if werr := writeJSON(out, res); werr != nil {
					return werr
				}
			} else if verr == nil {
				colorFor(out, color.FgGreen).Fprintln(out, "valid")
			} else {
				colorFor(out, color.FgRed, color.Bold).Fprintln(out, "invalid:")
				printIssues(out, verr)
			}

			if verr != nil {
				return fmt.Errorf("%s: %w", args[0], trace.ErrSchemaViolation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}

// =============================================================================
// seed
// =============================================================================

func newSeedCmd() *cobra.Command {
	var (
		docID    string
		clientID string
		sets     []string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Print the demo trace as JSON",
		Long: `Prints the demo trace for the "Quick check-in on VAT + cash runway" draft.

Each --set key=value replaces one top-level field. A value that parses as
JSON is used as JSON, anything else as a string.

Examples:
  proof seed
  proof seed --doc-id email_2026_03_01_007 --set confidence=high
  proof seed --set 'riskFlags=[]' --set 'claims=["Runway is 6 months"]'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if docID != "" {
				overrides["docId"] = docID
			}
			if clientID != "" {
				overrides["clientId"] = clientID
			}

			t, err := trace.MakeSeed(overrides)
			if err != nil {
				printIssues(cmd.ErrOrStderr(), err)
				return err
			}
			return writeJSON(cmd.OutOrStdout(), t)
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "Document id (default "+trace.SeedDocID+")")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Override a field, key=value (repeatable)")
	return cmd
}

// parseAssignments turns key=value pairs into a field override map.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", pair)
		}
		out[key] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}

// =============================================================================
// render
// =============================================================================

func newRenderCmd() *cobra.Command {
	var (
		draftPath string
		outDir    string
		toStdout  bool
	)

	cmd := &cobra.Command{
		Use:   "render <trace.json|->",
		Short: "Write the HTML memo for a trace",
		Long: `Renders a validated trace and its draft as a standalone HTML memo,
named advisory-memo_<clientId>_<id>.html in the output directory.

Examples:
  proof render trace.json
  proof render trace.json --draft draft.txt --out ./memos
  proof render trace.json --stdout > memo.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTrace(cmd, args[0])
			if err != nil {
				printIssues(cmd.ErrOrStderr(), err)
				return err
			}

			draft := trace.DefaultDraft
			if draftPath != "" {
				data, err := os.ReadFile(draftPath)
				if err != nil {
					return fmt.Errorf("read draft: %w", err)
				}
				draft = string(data)
			}

			html := memo.Render(t, draft)
			if toStdout {
				_, err := bytes.NewReader(html).WriteTo(cmd.OutOrStdout())
				return err
			}

			if err := os.MkdirAll(outDir, 0750); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			path := filepath.Join(outDir, memo.Filename(t))
			if err := os.WriteFile(path, html, 0644); err != nil {
				return fmt.Errorf("write memo: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&draftPath, "draft", "", "File holding the draft message (default: demo draft)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Write the memo to stdout instead of a file")
	return cmd
}
