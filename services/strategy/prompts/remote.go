// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRemoteTimeout bounds one remote prompt fetch.
const DefaultRemoteTimeout = 5 * time.Second

// RemoteSource reads prompt text from a prompt management service.
//
// GET {BaseURL}/api/prompt/{key} returns {"prompt_text": "..."}.
type RemoteSource struct {
	BaseURL string
	Client  *http.Client
}

// NewRemoteSource creates a source with DefaultRemoteTimeout.
func NewRemoteSource(baseURL string) *RemoteSource {
	return &RemoteSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: DefaultRemoteTimeout},
	}
}

// Fetch returns the prompt text for key. Empty text is an error.
func (r *RemoteSource) Fetch(ctx context.Context, key string) (string, error) {
	endpoint := r.BaseURL + "/api/prompt/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build prompt request: %w", err)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch prompt %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("prompt service returned %d for %s", resp.StatusCode, key)
	}

	var payload struct {
		PromptText string `json:"prompt_text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode prompt %s: %w", key, err)
	}
	if strings.TrimSpace(payload.PromptText) == "" {
		return "", fmt.Errorf("prompt %s is empty", key)
	}
	return payload.PromptText, nil
}

// Healthy reports whether GET {BaseURL}/api/status answers 200.
func (r *RemoteSource) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/api/status", nil)
	if err != nil {
		return false
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
