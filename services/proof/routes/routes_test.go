// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProofMode/services/proof/facade"
	"github.com/AleutianAI/ProofMode/services/proof/instability"
	"github.com/AleutianAI/ProofMode/services/proof/middleware"
	"github.com/AleutianAI/ProofMode/services/proof/store"
	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error"`
	Trace   *trace.Trace  `json:"trace"`
	Traces  []trace.Trace `json:"traces"`
	Deleted *int          `json:"deleted"`
}

func setupRouter(t *testing.T, opts ...facade.Option) *gin.Engine {
	t.Helper()
	router := gin.New()
	router.Use(middleware.RequestID())
	f := facade.New(store.New(store.NewMemoryBackend()), opts...)
	SetupRoutes(router, f, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	}))
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func seedJSON(t *testing.T, overrides map[string]any) []byte {
	t.Helper()
	seed, err := trace.MakeSeed(overrides)
	require.NoError(t, err)
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	return data
}

// ============================================================================
// Endpoint Tests
// ============================================================================

func TestHealth(t *testing.T) {
	router := setupRouter(t)
	w, _ := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"status":"healthy","count":0}`, w.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	router := setupRouter(t)
	w, _ := do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestCreateTrace(t *testing.T) {
	router := setupRouter(t)

	w, env := do(t, router, http.MethodPost, "/v1/traces", seedJSON(t, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.OK)
	require.NotNil(t, env.Trace)
	assert.Equal(t, "trc_001", env.Trace.ID)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestCreateTrace_Invalid(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"missing field", `{"id":"x"}`, "orgId: Required"},
		{"malformed", `{"id":`, "root: Invalid JSON"},
		{"not an object", `[1,2]`, "root: Expected object, received array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, router, http.MethodPost, "/v1/traces", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.OK)
			assert.Contains(t, env.Error, tt.wantMsg)
		})
	}
}

func TestListTraces_FiltersAndOrder(t *testing.T) {
	router := setupRouter(t)

	for _, o := range []map[string]any{
		{"id": "A", "docId": "d1"},
		{"id": "B", "docId": "d1"},
		{"id": "C", "docId": "d2", "clientId": "client_beta"},
	} {
		w, _ := do(t, router, http.MethodPost, "/v1/traces", seedJSON(t, o))
		require.Equal(t, http.StatusOK, w.Code)
	}

	_, env := do(t, router, http.MethodGet, "/v1/traces?docId=d1", nil)
	require.True(t, env.OK)
	require.Len(t, env.Traces, 2)
	assert.Equal(t, "B", env.Traces[0].ID)
	assert.Equal(t, "A", env.Traces[1].ID)

	_, env = do(t, router, http.MethodGet, "/v1/traces?clientId=client_beta", nil)
	require.Len(t, env.Traces, 1)
	assert.Equal(t, "C", env.Traces[0].ID)

	w, env := do(t, router, http.MethodGet, "/v1/traces?docId=none", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"traces":[]}`, w.Body.String())
	assert.Empty(t, env.Traces)
}

func TestGetTrace(t *testing.T) {
	router := setupRouter(t)
	do(t, router, http.MethodPost, "/v1/traces", seedJSON(t, nil))

	w, env := do(t, router, http.MethodGet, "/v1/traces/trc_001", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Trace)
	assert.Equal(t, "trc_001", env.Trace.ID)

	w, env = do(t, router, http.MethodGet, "/v1/traces/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Trace not found", env.Error)
}

func TestDeleteTraces(t *testing.T) {
	router := setupRouter(t)

	w, env := do(t, router, http.MethodDelete, "/v1/traces", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Missing docId"}`, w.Body.String())
	assert.False(t, env.OK)

	do(t, router, http.MethodPost, "/v1/traces/seed", nil)

	w, env = do(t, router, http.MethodDelete, "/v1/traces?docId="+trace.SeedDocID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Deleted)
	assert.Equal(t, 1, *env.Deleted)

	_, env = do(t, router, http.MethodDelete, "/v1/traces?docId="+trace.SeedDocID, nil)
	require.NotNil(t, env.Deleted)
	assert.Equal(t, 0, *env.Deleted)
}

func TestSeedVersionDeleteFlow(t *testing.T) {
	router := setupRouter(t)

	w, env := do(t, router, http.MethodPost, "/v1/traces/seed", []byte(`{"clientId":"client_acme_042"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, env.Trace)
	seedID := env.Trace.ID

	w, env = do(t, router, http.MethodPost, "/v1/traces/"+seedID+"/versions", []byte(`{"confidence":"high"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, env.Trace)
	assert.NotEqual(t, seedID, env.Trace.ID)
	assert.Equal(t, trace.ConfidenceHigh, env.Trace.Confidence)

	_, env = do(t, router, http.MethodGet, "/v1/traces?docId="+trace.SeedDocID, nil)
	require.Len(t, env.Traces, 2)

	_, env = do(t, router, http.MethodDelete, "/v1/traces?docId="+trace.SeedDocID, nil)
	require.NotNil(t, env.Deleted)
	assert.Equal(t, 2, *env.Deleted)
}

func TestSeed_BadBody(t *testing.T) {
	router := setupRouter(t)

	w, env := do(t, router, http.MethodPost, "/v1/traces/seed", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "Invalid JSON")

	w, env = do(t, router, http.MethodPost, "/v1/traces/seed", []byte(`{"confidence":"certain"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "Invalid enum value")
}

func TestCreateVersion_NotFound(t *testing.T) {
	router := setupRouter(t)
	w, env := do(t, router, http.MethodPost, "/v1/traces/nope/versions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Trace not found", env.Error)
}

func TestRenderMemo(t *testing.T) {
	router := setupRouter(t)
	do(t, router, http.MethodPost, "/v1/traces/seed", nil)

	w, _ := do(t, router, http.MethodPost, "/v1/traces/trc_001/memo", []byte(`{"draft":"<b>hi</b>"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t,
		`attachment; filename=advisory-memo_client_acme_042_trc_001.html`,
		w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "&lt;b&gt;hi&lt;/b&gt;")

	w, _ = do(t, router, http.MethodPost, "/v1/traces/trc_001/memo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Quick check-in on VAT")

	w, _ = do(t, router, http.MethodPost, "/v1/traces/trc_001/memo", []byte(`{"draft":""}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<pre>\n</pre>")
	assert.NotContains(t, w.Body.String(), "Quick check-in on VAT")

	w, env := do(t, router, http.MethodPost, "/v1/traces/nope/memo", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.OK)
}

func TestTransportFailure(t *testing.T) {
	sim, err := instability.New(instability.Settings{Enabled: true, FailureRate: 1})
	require.NoError(t, err)
	router := setupRouter(t, facade.WithDisruptor(sim))

	w, env := do(t, router, http.MethodGet, "/v1/traces", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Temporary backend hiccup. Please retry."}`, w.Body.String())
	assert.False(t, env.OK)

	w, _ = do(t, router, http.MethodPost, "/v1/traces", seedJSON(t, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// health bypasses the simulated network
	w, _ = do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_NoMetricsHandler(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, facade.New(store.New(nil)), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
