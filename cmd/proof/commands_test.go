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
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProofMode/cmd/proof/config"
	"github.com/AleutianAI/ProofMode/services/proof/memo"
	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// runCmd executes the root command with args and captures its output.
func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTraceFile(t *testing.T, tr any) string {
	t.Helper()
	data, err := json.Marshal(tr)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// =============================================================================
// seed
// =============================================================================

func TestSeedCmd_Default(t *testing.T) {
	out, _, err := runCmd(t, "", "seed")
	require.NoError(t, err)

	var got trace.Trace
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	want, err := trace.MakeSeed(nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSeedCmd_Overrides(t *testing.T) {
	out, _, err := runCmd(t, "", "seed",
		"--doc-id", "email_x",
		"--client-id", "client_y",
		"--set", "confidence=high",
		"--set", "riskFlags=[]",
		"--set", `claims=["Runway is 6 months"]`,
	)
	require.NoError(t, err)

	var got trace.Trace
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "email_x", got.DocID)
	assert.Equal(t, "client_y", got.ClientID)
	assert.Equal(t, trace.ConfidenceHigh, got.Confidence)
	assert.Empty(t, got.RiskFlags)
	assert.Equal(t, []string{"Runway is 6 months"}, got.Claims)
}

func TestSeedCmd_InvalidOverride(t *testing.T) {
	_, stderr, err := runCmd(t, "", "seed", "--set", "confidence=certain")
	require.Error(t, err)
	assert.ErrorIs(t, err, trace.ErrSchemaViolation)
	assert.Contains(t, stderr, "confidence:")
}

func TestSeedCmd_MalformedSet(t *testing.T) {
	_, _, err := runCmd(t, "", "seed", "--set", "confidence")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want key=value")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"high", "high"},
		{`"quoted"`, "quoted"},
		{"[]", []any{}},
		{`["a","b"]`, []any{"a", "b"}},
		{"true", true},
		{"42", json.Number("42")},
		{"1 2", "1 2"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.raw))
		})
	}
}

// =============================================================================
// validate
// =============================================================================

func TestValidateCmd_Valid(t *testing.T) {
	seed, err := trace.MakeSeed(nil)
	require.NoError(t, err)

	out, _, err := runCmd(t, "", "validate", writeTraceFile(t, seed))
	require.NoError(t, err)
	assert.Equal(t, "valid\n", out)
}

func TestValidateCmd_Invalid(t *testing.T) {
	path := writeTraceFile(t, map[string]any{"id": "trc_1"})

	out, _, err := runCmd(t, "", "validate", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, trace.ErrSchemaViolation)
	assert.True(t, strings.HasPrefix(out, "invalid:\n"))
	assert.Contains(t, out, "orgId:")
	assert.LessOrEqual(t, strings.Count(out, "\n  "), trace.MaxIssues)
}

func TestValidateCmd_JSONFromStdin(t *testing.T) {
	out, _, err := runCmd(t, "not json", "validate", "--json", "-")
	require.Error(t, err)

	var res validateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.OK)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "root", res.Issues[0].Path)
	assert.Contains(t, res.Issues[0].Message, "Invalid JSON")
}

func TestValidateCmd_MissingFile(t *testing.T) {
	_, _, err := runCmd(t, "", "validate", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSeedPipesIntoValidate(t *testing.T) {
	seeded, _, err := runCmd(t, "", "seed")
	require.NoError(t, err)

	out, _, err := runCmd(t, seeded, "validate", "-")
	require.NoError(t, err)
	assert.Equal(t, "valid\n", out)
}

// =============================================================================
// render
// =============================================================================

func TestRenderCmd_WritesMemo(t *testing.T) {
	seed, err := trace.MakeSeed(nil)
	require.NoError(t, err)
	outDir := filepath.Join(t.TempDir(), "memos")

	draftPath := filepath.Join(t.TempDir(), "draft.txt")
	require.NoError(t, os.WriteFile(draftPath, []byte("Hi <team>"), 0600))

	out, _, err := runCmd(t, "", "render", writeTraceFile(t, seed), "--out", outDir, "--draft", draftPath)
	require.NoError(t, err)

	wantPath := filepath.Join(outDir, memo.Filename(seed))
	assert.Equal(t, wantPath+"\n", out)

	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, memo.Render(seed, "Hi <team>"), data)
}

func TestRenderCmd_Stdout(t *testing.T) {
	seed, err := trace.MakeSeed(nil)
	require.NoError(t, err)

	out, _, err := runCmd(t, "", "render", writeTraceFile(t, seed), "--stdout")
	require.NoError(t, err)
	assert.Equal(t, string(memo.Render(seed, trace.DefaultDraft)), out)
}

func TestRenderCmd_InvalidTrace(t *testing.T) {
	_, stderr, err := runCmd(t, "", "render", writeTraceFile(t, map[string]any{}), "--stdout")
	require.Error(t, err)
	assert.ErrorIs(t, err, trace.ErrSchemaViolation)
	assert.NotEmpty(t, stderr)
}

// =============================================================================
// serve
// =============================================================================

func TestServeCmd_WatchRequiresConfig(t *testing.T) {
	_, _, err := runCmd(t, "", "serve", "--watch-config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch-config requires --config")
}

func TestServeCmd_InvalidStoreFlag(t *testing.T) {
	_, _, err := runCmd(t, "", "serve", "--store", "postgres")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestResolveServeConfig_FlagsOverrideFile(t *testing.T) {
	t.Setenv("PROOF_PORT", "")
	t.Setenv("PROOF_STORE", "")
	path := filepath.Join(t.TempDir(), "proof.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\nstore:\n  backend: badger\n"), 0600))

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--store", "memory", "--no-instability"}))

	opts := serveOptions{configPath: path, store: "memory", noInstability: true}
	cfg, err := resolveServeConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.False(t, cfg.Instability.Enabled)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRunServer_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proof.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instability:\n  enabled: false\n"), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Server.Port = freePort(t)
	cfg.Server.GinMode = "test"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Telemetry.TraceExporter = "none"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err = runServer(ctx, cfg, serveOptions{configPath: path, watchConfig: true}, logger)
	assert.NoError(t, err)
}

// =============================================================================
// env file
// =============================================================================

func TestLoadEnvFile(t *testing.T) {
	const key = "PROOF_TEST_DOTENV"
	const kept = "PROOF_TEST_DOTENV_KEPT"
	t.Setenv(kept, "from-env")
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"+kept+"=from-file\n"), 0600))

	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "from-file", os.Getenv(key))
	assert.Equal(t, "from-env", os.Getenv(kept))
}

func TestLoadEnvFile_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), ".env")

	assert.NoError(t, loadEnvFile(missing, false))
	assert.NoError(t, loadEnvFile("", true))

	err := loadEnvFile(missing, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRootCmd_ExplicitEnvFileMissing(t *testing.T) {
	_, _, err := runCmd(t, "", "--env-file", filepath.Join(t.TempDir(), "nope.env"), "seed")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestColorFor_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	colorFor(&buf, color.FgGreen).Fprint(&buf, "valid")
	assert.Equal(t, "valid", buf.String())

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "orgId", colorFor(f, color.FgYellow).Sprint("orgId"))
}
