// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"github.com/AleutianAI/semagate/services/sema/jsonenc"
	"github.com/AleutianAI/semagate/services/sema/telemetry"
)

// requestIDKey is the gin context key holding the request ID.
const requestIDKey = "request_id"

// Handlers contains the HTTP handlers for the gateway.
//
// Failures are not written here: handlers push them with c.Error and the
// Responder middleware turns them into error bodies.
type Handlers struct {
	svc     *Service
	encoder *jsonenc.Encoder
	logger  *slog.Logger
}

// NewHandlers creates handlers backed by svc.
//
// Description:
//
//	Registers the custom binding rules on first use. A nil encoder selects
//	a default one; a nil logger selects slog.Default().
func NewHandlers(svc *Service, encoder *jsonenc.Encoder, logger *slog.Logger) *Handlers {
	registerValidators()
	if encoder == nil {
		encoder = jsonenc.New(logger, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, encoder: encoder, logger: logger}
}

// HandleHealthy handles /healthy.
//
// Response:
//
//	200 OK: true
func (h *Handlers) HandleHealthy(c *gin.Context) {
	h.respond(c, true)
}

// HandleReady handles /ready.
//
// Response:
//
//	200 OK: true
func (h *Handlers) HandleReady(c *gin.Context) {
	h.respond(c, true)
}

// HandleCompletions handles POST /completions.
//
// Request Body:
//
//	PositionRequest
//
// Response:
//
//	200 OK: {"completions": [CompletionItem...]}
//	500 Internal Server Error: ErrorBody
func (h *Handlers) HandleCompletions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.requestLogger(c, requestID, "HandleCompletions")

	var req PositionRequest
	if !h.bind(c, logger, OpCompletions, &req) {
		return
	}

	resp, err := h.svc.Completions(c.Request.Context(), req.engineRequest(), req.Settings)
	if err != nil {
		logger.Error("Completions failed", "error", err)
		_ = c.Error(err)
		return
	}

	logger.Debug("Completions served",
		"source_path", *req.SourcePath,
		"count", len(resp.Completions))
	h.respond(c, resp)
}

// HandleGotoDefinition handles POST /gotodefinition.
//
// Request Body:
//
//	PositionRequest
//
// Response:
//
//	200 OK: {"definitions": [DefinitionItem...]}
//	500 Internal Server Error: ErrorBody
func (h *Handlers) HandleGotoDefinition(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.requestLogger(c, requestID, "HandleGotoDefinition")

	var req PositionRequest
	if !h.bind(c, logger, OpGotoDefinitions, &req) {
		return
	}

	resp, err := h.svc.GotoDefinitions(c.Request.Context(), req.engineRequest(), req.Settings)
	if err != nil {
		logger.Error("Goto definition failed", "error", err)
		_ = c.Error(err)
		return
	}

	logger.Debug("Definitions served", "count", len(resp.Definitions))
	h.respond(c, resp)
}

// HandleGotoAssignment handles POST /gotoassignment.
//
// Request Body:
//
//	AssignmentRequest. follow_imports defaults to false.
//
// Response:
//
//	200 OK: {"definitions": [DefinitionItem...]}
//	500 Internal Server Error: ErrorBody
func (h *Handlers) HandleGotoAssignment(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.requestLogger(c, requestID, "HandleGotoAssignment")

	var req AssignmentRequest
	if !h.bind(c, logger, OpGotoAssignments, &req) {
		return
	}
	followImports := boolOr(req.FollowImports, false)

	resp, err := h.svc.GotoAssignments(c.Request.Context(), req.engineRequest(), followImports, req.Settings)
	if err != nil {
		logger.Error("Goto assignment failed", "error", err, "follow_imports", followImports)
		_ = c.Error(err)
		return
	}

	logger.Debug("Assignments served", "count", len(resp.Definitions), "follow_imports", followImports)
	h.respond(c, resp)
}

// HandleUsages handles POST /usages.
//
// Request Body:
//
//	PositionRequest
//
// Response:
//
//	200 OK: {"definitions": [DefinitionItem...]}
//	500 Internal Server Error: ErrorBody
func (h *Handlers) HandleUsages(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.requestLogger(c, requestID, "HandleUsages")

	var req PositionRequest
	if !h.bind(c, logger, OpUsages, &req) {
		return
	}

	resp, err := h.svc.Usages(c.Request.Context(), req.engineRequest(), req.Settings)
	if err != nil {
		logger.Error("Usages failed", "error", err)
		_ = c.Error(err)
		return
	}

	logger.Debug("Usages served", "count", len(resp.Definitions))
	h.respond(c, resp)
}

// HandleNames handles POST /names.
//
// Request Body:
//
//	NamesRequest. all_scopes=false, definitions=true, references=false
//	unless given.
//
// Response:
//
//	200 OK: {"definitions": [DefinitionItem...]}
//	500 Internal Server Error: ErrorBody
func (h *Handlers) HandleNames(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.requestLogger(c, requestID, "HandleNames")

	var req NamesRequest
	if !h.bind(c, logger, OpNames, &req) {
		return
	}

	resp, err := h.svc.Names(c.Request.Context(), req.engineRequest(), req.Settings)
	if err != nil {
		logger.Error("Names failed", "error", err)
		_ = c.Error(err)
		return
	}

	logger.Debug("Names served", "path", *req.Path, "count", len(resp.Definitions))
	h.respond(c, resp)
}

// HandlePreloadModule handles POST /preload_module.
//
// Request Body:
//
//	PreloadRequest
//
// Response:
//
//	200 OK: true
//	500 Internal Server Error: ErrorBody
func (h *Handlers) HandlePreloadModule(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.requestLogger(c, requestID, "HandlePreloadModule")

	var req PreloadRequest
	if !h.bind(c, logger, OpPreload, &req) {
		return
	}

	if err := h.svc.PreloadModules(c.Request.Context(), req.Modules, req.Settings); err != nil {
		logger.Error("Preload failed", "error", err, "modules", req.Modules)
		_ = c.Error(err)
		return
	}

	logger.Info("Modules preloaded", "modules", req.Modules)
	h.respond(c, true)
}

// HandleNotFound answers unknown routes.
//
// Response:
//
//	404 Not Found: {"error": "Endpoint: '<path>' not found"}
func (h *Handlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": fmt.Sprintf("Endpoint: '%s' not found", c.Request.URL.Path),
	})
}

// bind decodes the JSON body into obj. On failure it records a
// *RequestError and returns false.
func (h *Handlers) bind(c *gin.Context, logger *slog.Logger, op string, obj any) bool {
	if err := c.ShouldBindWith(obj, binding.JSON); err != nil {
		logger.Warn("Invalid request body", "error", err)
		_ = c.Error(&RequestError{Op: op, Err: err})
		return false
	}
	return true
}

// respond writes v as a 200 JSON body through the shared encoder.
func (h *Handlers) respond(c *gin.Context, v any) {
	data, err := h.encoder.Marshal(v)
	if err != nil {
		_ = c.Error(fmt.Errorf("encoding response: %w", err))
		return
	}
	c.Data(http.StatusOK, binding.MIMEJSON, data)
}

func (h *Handlers) requestLogger(c *gin.Context, requestID, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With("request_id", requestID, "handler", handler)
}

// getOrCreateRequestID returns the request ID for c, creating one when the
// client sent none, and echoes it in the X-Request-ID response header.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}
