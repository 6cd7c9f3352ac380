// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProofMode/services/proof/audit"
)

func dialAuditStream(t *testing.T, hub *audit.Hub, query string) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/v1/audit/stream", AuditStream(hub))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/audit/stream" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = ws.Close() })

	var hello StreamMessage
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, ws.ReadJSON(&hello))
	require.Equal(t, "subscribed", hello.Action)
	return ws
}

func TestAuditStream_ForwardsFilteredEvents(t *testing.T) {
	hub := audit.NewHub(8)
	ws := dialAuditStream(t, hub, "?type=trace.derive,document.delete")
	ctx := context.Background()

	require.NoError(t, hub.Log(ctx, audit.Event{EventType: audit.EventTraceSeed, ResourceID: "trc_001"}))
	require.NoError(t, hub.Log(ctx, audit.Event{
		EventType:  audit.EventTraceDerive,
		ResourceID: "trc_002",
		Outcome:    audit.OutcomeSuccess,
		Metadata:   map[string]any{"parent_id": "trc_001"},
	}))

	var msg StreamMessage
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Action)
	require.NotNil(t, msg.Event)
	assert.Equal(t, audit.EventTraceDerive, msg.Event.EventType)
	assert.Equal(t, "trc_002", msg.Event.ResourceID)
	assert.Equal(t, "trc_001", msg.Event.Metadata["parent_id"])
}

func TestAuditStream_ClosesWhenHubCloses(t *testing.T) {
	hub := audit.NewHub(0)
	ws := dialAuditStream(t, hub, "")

	hub.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestAuditStream_UnsubscribesOnDisconnect(t *testing.T) {
	hub := audit.NewHub(0)
	ws := dialAuditStream(t, hub, "")
	assert.Equal(t, 1, hub.Subscribers())

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestAuditStream_RejectsPlainHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := audit.NewHub(0)
	router := gin.New()
	router.GET("/v1/audit/stream", AuditStream(hub))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/audit/stream", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, hub.Subscribers())
}
