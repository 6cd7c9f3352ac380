// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the trace service.
//
// Every JSON response is either {"ok":true, ...payload} or
// {"ok":false,"error":"..."}. Status codes are derived from the facade's
// failure Kind and never from error text.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ProofMode/services/proof/facade"
	"github.com/AleutianAI/ProofMode/services/proof/memo"
	"github.com/AleutianAI/ProofMode/services/proof/middleware"
	"github.com/AleutianAI/ProofMode/services/proof/store"
	"github.com/AleutianAI/ProofMode/services/proof/trace"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// statusFor maps a failure Kind to an HTTP status.
func statusFor(kind facade.Kind) int {
	switch kind {
	case facade.KindNone:
		return http.StatusOK
	case facade.KindSchemaViolation:
		return http.StatusBadRequest
	case facade.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respond writes payload on success or the error envelope on failure.
func respond(c *gin.Context, res facade.Result, payload any) {
	if !res.OK {
		c.JSON(statusFor(res.Kind), res)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func requestLogger(c *gin.Context, handler string) *slog.Logger {
	return slog.With("request_id", middleware.GetRequestID(c), "handler", handler)
}

// readBody reads at most MaxBodyBytes of the request body.
func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	return io.ReadAll(c.Request.Body)
}

// decodeOptional decodes an optional JSON object body into dst.
// An empty body leaves dst untouched.
func decodeOptional(c *gin.Context, dst any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("Invalid JSON: " + err.Error())
	}
	return nil
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request body", "error", err)
	c.JSON(http.StatusBadRequest, facade.Result{OK: false, Error: err.Error()})
}

// CreateTrace handles POST /v1/traces.
//
// Response:
//
//	200 OK: {"ok":true,"trace":{...}}
//	400 Bad Request: invalid or malformed trace
//	500 Internal Server Error: transport or backend failure
func CreateTrace(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := requestLogger(c, "CreateTrace")

		body, err := readBody(c)
		if err != nil {
			badRequest(c, logger, err)
			return
		}

		resp := f.CreateJSON(c.Request.Context(), body)
		if resp.OK {
			logger.Info("Trace stored", "trace_id", resp.Trace.ID, "doc_id", resp.Trace.DocID)
		}
		respond(c, resp.Result, resp)
	}
}

// ListTraces handles GET /v1/traces?docId=&clientId=.
//
// Both filters are optional and combine with AND. Results are newest first.
func ListTraces(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := f.List(c.Request.Context(), store.Filter{
			DocID:    c.Query("docId"),
			ClientID: c.Query("clientId"),
		})
		respond(c, resp.Result, resp)
	}
}

// GetTrace handles GET /v1/traces/:id.
func GetTrace(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := f.Get(c.Request.Context(), c.Param("id"))
		respond(c, resp.Result, resp)
	}
}

// DeleteTraces handles DELETE /v1/traces?docId=.
//
// Response:
//
//	200 OK: {"ok":true,"deleted":n}
//	400 Bad Request: {"ok":false,"error":"Missing docId"}
func DeleteTraces(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := requestLogger(c, "DeleteTraces")
		docID := c.Query("docId")

		resp := f.DeleteByDoc(c.Request.Context(), docID)
		if resp.OK {
			logger.Info("Traces deleted", "doc_id", docID, "deleted", resp.Deleted)
		}
		respond(c, resp.Result, resp)
	}
}

// SeedTrace handles POST /v1/traces/seed. The optional body is a JSON
// object of field overrides.
func SeedTrace(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := requestLogger(c, "SeedTrace")

		var overrides map[string]any
		if err := decodeOptional(c, &overrides); err != nil {
			badRequest(c, logger, err)
			return
		}
		resp := f.Seed(c.Request.Context(), overrides)
		respond(c, resp.Result, resp)
	}
}

// CreateVersion handles POST /v1/traces/:id/versions. The optional body is
// a JSON object of field overrides applied to the stored trace.
func CreateVersion(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := requestLogger(c, "CreateVersion")

		var overrides map[string]any
		if err := decodeOptional(c, &overrides); err != nil {
			badRequest(c, logger, err)
			return
		}
		resp := f.NewVersion(c.Request.Context(), c.Param("id"), overrides)
		if resp.OK {
			logger.Info("Version created", "parent_id", c.Param("id"), "trace_id", resp.Trace.ID)
		}
		respond(c, resp.Result, resp)
	}
}

// MemoRequest is the optional body of the memo endpoint. A missing body or
// draft field renders trace.DefaultDraft; an explicit "" renders empty.
type MemoRequest struct {
	Draft *string `json:"draft"`
}

// RenderMemo handles POST /v1/traces/:id/memo.
//
// Response:
//
//	200 OK: text/html attachment named advisory-memo_<clientId>_<id>.html
//	404 Not Found: unknown trace id
func RenderMemo(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := requestLogger(c, "RenderMemo")

		var req MemoRequest
		if err := decodeOptional(c, &req); err != nil {
			badRequest(c, logger, err)
			return
		}

		draft := trace.DefaultDraft
		if req.Draft != nil {
			draft = *req.Draft
		}
		resp := f.Memo(c.Request.Context(), c.Param("id"), draft)
		if !resp.OK {
			c.JSON(statusFor(resp.Kind), resp.Result)
			return
		}
		c.Header("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": resp.Filename}))
		c.Data(http.StatusOK, memo.ContentType, resp.HTML)
	}
}

// HealthCheck handles GET /health.
func HealthCheck(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := f.Count(c.Request.Context())
		if err != nil {
			requestLogger(c, "HealthCheck").Error("Store unavailable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "status": "unhealthy", "error": "Store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": "healthy", "count": n})
	}
}
