// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
)

const (
	mcpTracerName = "strategy.mcp"

	// maxResponseBytes caps a tool server reply.
	maxResponseBytes = 16 << 20

	// maxErrorBodyChars caps the body text quoted in TransportError.
	maxErrorBodyChars = 500
)

// Resolver maps a tool key to the tool and its server base URL.
//
// *registry.Registry satisfies it.
type Resolver interface {
	Resolve(key string) (registry.Tool, string, bool)
}

// Invoker is the JSON-RPC tool transport.
//
// Thread Safety: Safe for concurrent use.
type Invoker struct {
	resolver Resolver
	client   *http.Client
	limit    rate.Limit
	burst    int
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithHTTPClient replaces the HTTP client. The engine applies its own
// per-call timeout through the context.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Invoker) { i.client = c }
}

// WithRateLimit bounds calls per server. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(i *Invoker) {
		if perSecond <= 0 {
			i.limit = rate.Inf
			return
		}
		i.limit = rate.Limit(perSecond)
		if burst < 1 {
			burst = 1
		}
		i.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInvoker creates an invoker routed through resolver.
func NewInvoker(resolver Resolver, opts ...Option) *Invoker {
	i := &Invoker{
		resolver: resolver,
		client:   &http.Client{},
		limit:    rate.Inf,
		burst:    1,
		logger:   slog.Default(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Call executes toolKey with input as {"text_input": input}.
//
// # Description
//
// Routing failures return (nil, error) with the matching sentinel.
// Transport failures return a *TransportError together with a result
// holding only debug_info. A completed exchange returns nil error and
// either {"result": ...} or {"error": ...}, both with debug_info
// describing the request and the server's own debug payload.
//
// # Inputs
//
//   - ctx: Bounds the rate limiter wait and the HTTP exchange.
//   - toolKey: Registry key of the tool.
//   - input: Free text passed as arguments.text_input.
//
// # Outputs
//
//   - map[string]any: Tool result with debug_info.
//   - error: Routing or transport failure.
func (i *Invoker) Call(ctx context.Context, toolKey, input string) (map[string]any, error) {
	ctx, span := otel.Tracer(mcpTracerName).Start(ctx, "mcp.Invoker.Call",
		trace.WithAttributes(attribute.String("tool", toolKey)),
	)
	defer span.End()

	tool, baseURL, ok := i.resolver.Resolve(toolKey)
	switch {
	case !ok:
		return i.routeFailure(span, toolKey, "", notFound(toolKey))
	case !tool.Enabled:
		return i.routeFailure(span, toolKey, tool.ServerName, disabled(toolKey))
	case !tool.Available:
		return i.routeFailure(span, toolKey, tool.ServerName, unavailable(toolKey))
	case baseURL == "":
		return i.routeFailure(span, toolKey, tool.ServerName, unknownServer(tool.ServerName))
	}
	span.SetAttributes(attribute.String("server", tool.ServerName))

	if err := i.limiter(tool.ServerName).Wait(ctx); err != nil {
		callsTotal.WithLabelValues(tool.ServerName, "rate_limited").Inc()
		terr := &TransportError{Server: tool.ServerName, Err: fmt.Errorf("rate limit wait: %w", err)}
		span.RecordError(terr)
		return nil, terr
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/mcp"
	requestID := uuid.NewString()
	arguments := map[string]any{"text_input": input}
	info := callInfo(toolKey, arguments, endpoint)

	start := time.Now()
	status, body, err := i.post(ctx, endpoint, rpcRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  "tools/call",
		Params:  rpcParams{Name: toolKey, Arguments: arguments},
	})
	elapsed := time.Since(start)
	callDuration.WithLabelValues(tool.ServerName).Observe(elapsed.Seconds())

	resp := info["response"].(map[string]any)
	resp["processing_time_ms"] = float64(elapsed.Microseconds()) / 1000
	resp["request_id"] = requestID
	if status != 0 {
		resp["status"] = status
	}

	if err != nil {
		resp["tool_debug"] = map[string]any{"error": err.Error(), "error_type": fmt.Sprintf("%T", err)}
		return i.transportFailure(span, tool.ServerName, info, &TransportError{Server: tool.ServerName, Err: err})
	}
	if status < 200 || status > 299 {
		text := llm.Truncate(strings.TrimSpace(string(body)), maxErrorBodyChars)
		resp["tool_debug"] = map[string]any{"error": fmt.Sprintf("HTTP %d", status), "response_text": text}
		return i.transportFailure(span, tool.ServerName, info, &TransportError{Server: tool.ServerName, StatusCode: status, Body: text})
	}

	out, serverDebug, err := decodeReply(body)
	if err != nil {
		resp["tool_debug"] = map[string]any{"error": err.Error()}
		return i.transportFailure(span, tool.ServerName, info, &TransportError{Server: tool.ServerName, Err: err})
	}
	resp["tool_debug"] = serverDebug
	out["debug_info"] = info

	outcome := "ok"
	if _, failed := out["error"]; failed {
		outcome = "tool_error"
		span.SetStatus(codes.Error, "tool returned error")
	}
	callsTotal.WithLabelValues(tool.ServerName, outcome).Inc()
	i.logger.Debug("Tool call completed",
		slog.String("tool", toolKey),
		slog.String("server", tool.ServerName),
		slog.String("outcome", outcome),
		slog.Duration("took", elapsed),
	)
	return out, nil
}

func (i *Invoker) post(ctx context.Context, endpoint string, payload rpcRequest) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// decodeReply turns a server reply into {"result"} or {"error"} and the
// server's own debug payload.
//
// Accepted shapes: a JSON-RPC envelope with "result" or "error", or a
// bare {"result"|"error", "debug_info"|"debug_response"} object. An
// envelope result that itself carries "result" or "error" is unwrapped.
func decodeReply(body []byte) (map[string]any, any, error) {
	var top map[string]any
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}

	serverDebug := firstOf(top, "debug_response", "debug_info")

	if rawErr, ok := top["error"]; ok && rawErr != nil {
		return map[string]any{"error": formatRPCError(rawErr)}, serverDebug, nil
	}

	result, ok := top["result"]
	if !ok {
		return nil, nil, fmt.Errorf("response has neither result nor error")
	}

	if inner, isMap := result.(map[string]any); isMap {
		if _, hasResult := inner["result"]; hasResult || inner["error"] != nil {
			if d := firstOf(inner, "debug_info", "debug_response"); d != nil {
				serverDebug = d
			}
			if innerErr := inner["error"]; innerErr != nil {
				return map[string]any{"error": formatRPCError(innerErr)}, serverDebug, nil
			}
			return map[string]any{"result": inner["result"]}, serverDebug, nil
		}
	}
	return map[string]any{"result": result}, serverDebug, nil
}

func formatRPCError(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return v
	}
	var e rpcError
	if json.Unmarshal(data, &e) != nil || e.Message == "" {
		return v
	}
	return fmt.Sprintf("%d - %s", e.Code, e.Message)
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func callInfo(tool string, arguments map[string]any, endpoint string) map[string]any {
	return map[string]any{
		"request": map[string]any{
			"tool_name":  tool,
			"arguments":  arguments,
			"server_url": endpoint,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
		"response": map[string]any{},
	}
}

func (i *Invoker) routeFailure(span trace.Span, tool, server string, err error) (map[string]any, error) {
	label := server
	if label == "" {
		label = "unknown"
	}
	callsTotal.WithLabelValues(label, "route_error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	i.logger.Debug("Tool call rejected", slog.String("tool", tool), slog.String("error", err.Error()))
	return nil, err
}

func (i *Invoker) transportFailure(span trace.Span, server string, info map[string]any, err *TransportError) (map[string]any, error) {
	callsTotal.WithLabelValues(server, "transport_error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "transport failure")
	i.logger.Warn("Tool server exchange failed",
		slog.String("server", server),
		slog.String("error", llm.SafeLogString(err.Error())),
	)
	return map[string]any{"debug_info": info}, err
}

func (i *Invoker) limiter(server string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	l, ok := i.limiters[server]
	if !ok {
		l = rate.NewLimiter(i.limit, i.burst)
		i.limiters[server] = l
	}
	return l
}
