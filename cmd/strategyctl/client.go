// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/AleutianAI/AleutianStrategy/services/strategy"
)

// apiClient calls the strategyd HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(getServerBaseURL(), "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// apiError is a non-2xx reply decoded from strategy.ErrorResponse.
type apiError struct {
	Status int
	Body   strategy.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body.Error)
}

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("strategyd request", "method", method, "url", u)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("strategyd unavailable at %s: %w", c.baseURL, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) Chat(ctx context.Context, message, conversationID string) (*strategy.ChatResponse, error) {
	var out strategy.ChatResponse
	req := strategy.ChatRequest{Message: message, ConversationID: conversationID}
	if err := c.do(ctx, http.MethodPost, "/api/chat", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Tools(ctx context.Context) (*strategy.ToolsResponse, error) {
	var out strategy.ToolsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tools", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Toggle(ctx context.Context, key string) (*strategy.ToggleResponse, error) {
	var out strategy.ToggleResponse
	if err := c.do(ctx, http.MethodPost, "/api/tools/toggle", nil, strategy.ToggleRequest{ToolKey: key}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) SetEnabled(ctx context.Context, key string, enabled bool) error {
	req := strategy.SetEnabledRequest{ToolKey: key, Enabled: &enabled}
	return c.do(ctx, http.MethodPost, "/api/tools/enabled", nil, req, nil)
}

func (c *apiClient) Refresh(ctx context.Context) (*strategy.RefreshResponse, error) {
	var out strategy.RefreshResponse
	if err := c.do(ctx, http.MethodPost, "/api/tools/refresh", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Status(ctx context.Context) (*strategy.StatusResponse, error) {
	var out strategy.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) History(ctx context.Context, conversationID string) (*strategy.HistoryResponse, error) {
	var out strategy.HistoryResponse
	q := url.Values{}
	if conversationID != "" {
		q.Set("conversation_id", conversationID)
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/history", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) ClearHistory(ctx context.Context, conversationID string, all bool) (*strategy.ClearHistoryResponse, error) {
	var out strategy.ClearHistoryResponse
	q := url.Values{}
	if conversationID != "" {
		q.Set("conversation_id", conversationID)
	}
	if all {
		q.Set("all", "true")
	}
	if err := c.do(ctx, http.MethodDelete, "/api/chat/history", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
