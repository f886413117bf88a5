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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RegisterRoutes mounts every endpoint on router.
//
// Description:
//
//	Chat endpoints sit behind WarmupGuardMiddleware; read and admin
//	endpoints answer during warmup.
//
// Endpoints:
//
//	POST   /api/chat              - Run one turn
//	GET    /api/chat/ws           - Streaming turns over websocket
//	GET    /api/chat/history      - Recent turns of a conversation
//	DELETE /api/chat/history      - Clear a conversation (or all=true)
//	GET    /api/status            - Registry and provider status
//	GET    /api/tools             - Full tool catalog
//	POST   /api/tools/toggle      - Flip a tool's enabled flag
//	POST   /api/tools/enabled     - Set a tool's enabled flag
//	POST   /api/tools/refresh     - Reload catalog and re-probe servers
//	GET    /health                - Liveness
//	GET    /ready                 - Readiness (warmup finished)
//	GET    /metrics               - Prometheus metrics
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", h.HandleHealth)
	router.GET("/ready", h.HandleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		chat := api.Group("/chat")
		{
			chat.POST("", WarmupGuardMiddleware(h.svc), h.HandleChat)
			chat.GET("/ws", WarmupGuardMiddleware(h.svc), h.HandleChatWS)
			chat.GET("/history", h.HandleHistory)
			chat.DELETE("/history", h.HandleClearHistory)
		}

		api.GET("/status", h.HandleStatus)

		tools := api.Group("/tools")
		{
			tools.GET("", h.HandleTools)
			tools.POST("/toggle", h.HandleToggleTool)
			tools.POST("/enabled", h.HandleSetToolEnabled)
			tools.POST("/refresh", h.HandleRefreshTools)
		}
	}
}

// WarmupGuardMiddleware rejects requests with 503 until svc is warm.
//
// Description:
//
//	While the LLM backends are being checked, chat requests would fail
//	slowly; this returns immediately with Retry-After instead. The
//	rejection is recorded as its own span so it is visible in traces.
func WarmupGuardMiddleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc.IsWarm() {
			c.Next()
			return
		}

		_, span := otel.Tracer("strategy.http").Start(c.Request.Context(), "warmup_guard.reject",
			oteltrace.WithAttributes(
				attribute.String("path", c.Request.URL.Path),
				attribute.String("method", c.Request.Method),
				attribute.Int("http.status_code", http.StatusServiceUnavailable),
			),
		)
		defer span.End()
		span.SetStatus(codes.Error, "service unavailable during warmup")

		traceID := ""
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		slog.Warn("Chat request rejected: model warmup in progress",
			slog.String("path", c.Request.URL.Path),
			slog.String("trace_id", traceID),
		)

		c.Header("Retry-After", "30")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "model warmup in progress, retry in 30 seconds",
			Code:  "SERVICE_WARMING_UP",
		})
	}
}
