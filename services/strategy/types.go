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
	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/history"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
	"github.com/go-openapi/strfmt"
)

// =============================================================================
// Request Types
// =============================================================================

// ChatRequest is the body of POST /api/chat and each websocket message.
type ChatRequest struct {
	// Message is the user's question.
	Message string `json:"message" binding:"required"`

	// ConversationID groups turns for history. Empty selects the
	// day-scoped default conversation.
	ConversationID string `json:"conversation_id" binding:"omitempty,max=256,excludesall=/"`
}

// ToggleRequest is the body of POST /api/tools/toggle.
type ToggleRequest struct {
	ToolKey string `json:"tool_key" binding:"required"`
}

// SetEnabledRequest is the body of POST /api/tools/enabled.
type SetEnabledRequest struct {
	ToolKey string `json:"tool_key" binding:"required"`
	Enabled *bool  `json:"enabled" binding:"required"`
}

// =============================================================================
// Response Types
// =============================================================================

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Message        string           `json:"message"`
	Timestamp      strfmt.DateTime  `json:"timestamp"`
	ConversationID string           `json:"conversation_id"`
	RequestID      strfmt.UUID      `json:"request_id,omitempty"`
	Strategy       *engine.Strategy `json:"strategy"`
	MCPEnabled     bool             `json:"mcp_enabled"`
	Error          string           `json:"error,omitempty"`
}

// ToggleResponse is the body returned by the tool toggle endpoints.
type ToggleResponse struct {
	ToolKey string `json:"tool_key"`
	Enabled bool   `json:"enabled"`
}

// ToolsResponse is the body returned by GET /api/tools.
type ToolsResponse struct {
	Tools []registry.Tool `json:"tools"`
	Total int             `json:"total"`
}

// RefreshResponse is the body returned by POST /api/tools/refresh.
type RefreshResponse struct {
	Stats registry.Stats `json:"stats"`

	// Warning carries a catalog load error. The previous catalog stays
	// in service, so the request still succeeds.
	Warning string `json:"warning,omitempty"`
}

// StatusResponse is the body returned by GET /api/status.
type StatusResponse struct {
	Status         string                  `json:"status"`
	Warm           bool                    `json:"warm"`
	Tools          registry.Stats          `json:"tools"`
	Servers        []registry.ServerStatus `json:"servers"`
	Planner        ProviderInfo            `json:"planner"`
	Synthesizer    ProviderInfo            `json:"synthesizer"`
	MCPEnabled     bool                    `json:"mcp_enabled"`
	HistoryEnabled bool                    `json:"history_enabled"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
}

// HistoryResponse is the body returned by GET /api/chat/history.
type HistoryResponse struct {
	ConversationID string          `json:"conversation_id"`
	Entries        []history.Entry `json:"entries"`
}

// ClearHistoryResponse is the body returned by DELETE /api/chat/history.
type ClearHistoryResponse struct {
	Removed int `json:"removed"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WSEvent is one frame sent on the chat websocket.
//
// Type is an engine event type, "answer" for the final reply, or "error".
type WSEvent struct {
	Type     string         `json:"type"`
	Event    *engine.Event  `json:"event,omitempty"`
	Response *ChatResponse  `json:"response,omitempty"`
	Error    *ErrorResponse `json:"error,omitempty"`
}
