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
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/ProofMode/services/proof/audit"
)

const (
	// streamWriteTimeout bounds each frame written to an audit stream.
	streamWriteTimeout = 10 * time.Second

	// streamPingInterval keeps idle audit streams alive through proxies.
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame on the audit stream.
type StreamMessage struct {
	// Action is "subscribed" for the first frame, then "event".
	Action string       `json:"action"`
	Event  *audit.Event `json:"event,omitempty"`
}

// AuditStream returns a handler that upgrades to a WebSocket and pushes
// every audit event recorded after the connection opens.
//
// Description:
//
//	The optional ?type= query parameter is a comma-separated list of event
//	types to forward (e.g. "trace.derive,document.delete"); without it all
//	events are sent. The stream is one-way: client frames are read and
//	discarded so that close frames are noticed. The stream ends when the
//	client disconnects, a write fails, or the hub is closed at shutdown.
//
// Inputs:
//
//	hub - The audit hub the facade's auditor writes to.
func AuditStream(hub *audit.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := requestLogger(c, "AuditStream")

		filter := audit.Filter{}
		if types := c.Query("type"); types != "" {
			for _, t := range strings.Split(types, ",") {
				if t = strings.TrimSpace(t); t != "" {
					filter.EventTypes = append(filter.EventTypes, t)
				}
			}
		}

		// Subscribe before the upgrade so no event between the handshake and
		// the first read is lost.
		events, cancel := hub.Subscribe()
		defer cancel()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("audit stream upgrade failed", "error", err)
			return
		}
		defer ws.Close()
		log.Info("audit stream opened", "types", filter.EventTypes)

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		if err := writeFrame(ws, StreamMessage{Action: "subscribed"}); err != nil {
			return
		}

		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				log.Info("audit stream closed by client")
				return
			case <-ping.C:
				deadline := time.Now().Add(streamWriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(streamWriteTimeout))
					return
				}
				if !filter.Matches(ev) {
					continue
				}
				if err := writeFrame(ws, StreamMessage{Action: "event", Event: &ev}); err != nil {
					log.Warn("audit stream write failed", "error", err)
					return
				}
			}
		}
	}
}

func writeFrame(ws *websocket.Conn, msg StreamMessage) error {
	if err := ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(msg)
}
