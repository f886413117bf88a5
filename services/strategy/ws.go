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
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 64 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var wsValidate = validator.New()

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(ev WSEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(ev)
}

// HandleChatWS handles GET /api/chat/ws.
//
// Description:
//
//	Upgrades to a websocket. Each client frame is a ChatRequest; the
//	server answers with one WSEvent per orchestration event (planned,
//	step_started, step_completed, answered) followed by an "answer" frame
//	carrying the ChatResponse. Turns on one connection run one at a time.
//	Invalid frames get an "error" frame and the connection stays open.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleChatWS(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleChatWS")

	raw, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer raw.Close()
	raw.SetReadLimit(wsMaxMessage)

	conn := &wsConn{conn: raw}
	ctx := c.Request.Context()

	for {
		var req ChatRequest
		if err := raw.ReadJSON(&req); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !strings.Contains(err.Error(), "use of closed") {
				logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if err := wsValidate.Struct(wsRequest{Message: req.Message, ConversationID: req.ConversationID}); err != nil {
			_ = conn.send(WSEvent{Type: "error", Error: &ErrorResponse{Error: "invalid request: " + err.Error(), Code: "INVALID_REQUEST"}})
			continue
		}

		obs := engine.ObserverFunc(func(e engine.Event) {
			ev := e
			if err := conn.send(WSEvent{Type: string(e.Type), Event: &ev}); err != nil {
				logger.Debug("websocket event dropped", slog.String("error", err.Error()))
			}
		})
		res := h.svc.Chat(ctx, req.Message, req.ConversationID, obs)
		resp := chatResponse(res, requestID)
		if err := conn.send(WSEvent{Type: "answer", Response: &resp}); err != nil {
			logger.Warn("websocket answer dropped", slog.String("error", err.Error()))
			return
		}
	}
}

// wsRequest mirrors ChatRequest's binding rules for validator.
type wsRequest struct {
	Message        string `validate:"required"`
	ConversationID string `validate:"omitempty,max=256,excludesall=/"`
}
