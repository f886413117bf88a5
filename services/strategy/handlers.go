// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Handlers adapts Service to gin.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the caller's request ID if it is a UUID, or
// a fresh one, and echoes it in the response header.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(RequestIDHeader)
	if !strfmt.IsUUID(id) {
		id = uuid.NewString()
	}
	c.Header(RequestIDHeader, id)
	return id
}

// HandleChat handles POST /api/chat.
//
// Description:
//
//	Runs one orchestration turn for the message and returns the answer
//	with the full strategy trace. Planning, tool and synthesis failures
//	are reported inside the strategy; the HTTP status is 200 for every
//	turn that ran.
//
// Request Body:
//
//	ChatRequest
//
// Response:
//
//	200 OK: ChatResponse
//	400 Bad Request: Missing or invalid message
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleChat")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	start := time.Now()
	res := h.svc.Chat(c.Request.Context(), req.Message, req.ConversationID, nil)

	attrs := []any{
		slog.String("conversation_id", res.ConversationID),
		slog.Duration("duration", time.Since(start)),
	}
	if res.Strategy != nil {
		attrs = append(attrs,
			slog.String("strategy_id", res.Strategy.ID),
			slog.Int("steps", len(res.Strategy.Steps)),
			slog.Bool("parse_failed", res.Strategy.ParseFailed),
		)
	}
	if res.Error != "" {
		attrs = append(attrs, slog.String("error", llm.SafeLogString(res.Error)))
	}
	logger.Info("chat turn complete", attrs...)

	c.JSON(http.StatusOK, chatResponse(res, requestID))
}

func chatResponse(res ChatResult, requestID string) ChatResponse {
	return ChatResponse{
		Message:        res.Answer,
		Timestamp:      strfmt.DateTime(res.Timestamp),
		ConversationID: res.ConversationID,
		RequestID:      strfmt.UUID(requestID),
		Strategy:       res.Strategy,
		MCPEnabled:     res.MCPEnabled,
		Error:          res.Error,
	}
}

// HandleHistory handles GET /api/chat/history.
//
// Query Parameters:
//
//	conversation_id: Conversation to read (optional, defaults to today's session)
//
// Response:
//
//	200 OK: HistoryResponse
//	404 Not Found: History disabled
//	500 Internal Server Error: Storage failure
func (h *Handlers) HandleHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleHistory")

	id, entries, err := h.svc.History(c.Request.Context(), c.Query("conversation_id"))
	if err != nil {
		h.historyError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{ConversationID: id, Entries: entries})
}

// HandleClearHistory handles DELETE /api/chat/history.
//
// Query Parameters:
//
//	conversation_id: Conversation to clear (optional, defaults to today's session)
//	all: "true" clears every conversation
func (h *Handlers) HandleClearHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClearHistory")

	removed, err := h.svc.ClearHistory(c.Request.Context(), c.Query("conversation_id"), c.Query("all") == "true")
	if err != nil {
		h.historyError(c, logger, err)
		return
	}
	logger.Info("history cleared", slog.Int("removed", removed))
	c.JSON(http.StatusOK, ClearHistoryResponse{Removed: removed})
}

func (h *Handlers) historyError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrHistoryDisabled):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "HISTORY_DISABLED"})
	default:
		logger.Error("history operation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "HISTORY_ERROR"})
	}
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status())
}

// HandleTools handles GET /api/tools.
func (h *Handlers) HandleTools(c *gin.Context) {
	tools := h.svc.Tools()
	c.JSON(http.StatusOK, ToolsResponse{Tools: tools, Total: len(tools)})
}

// HandleToggleTool handles POST /api/tools/toggle.
//
// Response:
//
//	200 OK: ToggleResponse with the new state
//	400 Bad Request: Missing tool_key
//	404 Not Found: Unknown tool
func (h *Handlers) HandleToggleTool(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleToggleTool")

	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	enabled, err := h.svc.ToggleTool(req.ToolKey)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "TOOL_NOT_FOUND"})
		return
	}
	logger.Info("tool toggled", slog.String("tool_key", req.ToolKey), slog.Bool("enabled", enabled))
	c.JSON(http.StatusOK, ToggleResponse{ToolKey: req.ToolKey, Enabled: enabled})
}

// HandleSetToolEnabled handles POST /api/tools/enabled.
func (h *Handlers) HandleSetToolEnabled(c *gin.Context) {
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	if err := h.svc.SetToolEnabled(req.ToolKey, *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "TOOL_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{ToolKey: req.ToolKey, Enabled: *req.Enabled})
}

// HandleRefreshTools handles POST /api/tools/refresh.
//
// A catalog load failure keeps the previous catalog and is reported as a
// warning with status 200.
func (h *Handlers) HandleRefreshTools(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRefreshTools")

	stats, err := h.svc.Refresh(c.Request.Context())
	resp := RefreshResponse{Stats: stats}
	if err != nil {
		resp.Warning = llm.SafeLogString(err.Error())
		logger.Warn("catalog refresh failed, keeping previous catalog", slog.String("error", resp.Warning))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.svc.cfg.Version,
		Timestamp: strfmt.DateTime(time.Now()),
	})
}

// HandleReady handles GET /ready. It returns 503 until warmup completes.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.svc.IsWarm() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "model warmup in progress", Code: "SERVICE_WARMING_UP"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
