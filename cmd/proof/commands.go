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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// newRootCmd builds the command tree. Each call returns fresh commands and
// flag state.
func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "proof",
		Short: "Advisory trace service and memo tools",
		Long: `proof stores the evidence trail behind AI-drafted advisory messages
and renders it as a standalone HTML memo.

Run "proof serve" for the HTTP API, or use the offline commands to
produce, check, and render trace files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Load environment variables from this file; existing variables win")
	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newSeedCmd(),
		newRenderCmd(),
	)
	return root
}

// loadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing default
// file is not an error; a missing file named explicitly is.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

// readInput reads a file, or the command's stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// loadTrace reads and validates a trace file.
func loadTrace(cmd *cobra.Command, path string) (trace.Trace, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return trace.Trace{}, err
	}
	return trace.Validate(json.RawMessage(data))
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printIssues lists validation issues one per line. Returns false if err is
// not a validation error.
func printIssues(w io.Writer, err error) bool {
	var verr *trace.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	path := colorFor(w, color.FgYellow)
	for _, issue := range verr.Issues {
		fmt.Fprintf(w, "  %s: %s\n", path.Sprint(issue.Path), issue.Message)
	}
	return true
}

// colorFor returns a color that is only applied when w is a terminal and
// NO_COLOR is unset, so piped and captured output stays plain.
func colorFor(w io.Writer, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	f, ok := w.(*os.File)
	if ok && !color.NoColor && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}
