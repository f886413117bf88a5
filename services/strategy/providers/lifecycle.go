// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
)

// OllamaLifecycleAdapter checks an Ollama server before first use.
//
// Thread Safety: OllamaLifecycleAdapter is safe for concurrent use.
type OllamaLifecycleAdapter struct {
	client *llm.OllamaClient
	logger *slog.Logger
}

// NewOllamaLifecycleAdapter creates a lifecycle adapter around client.
func NewOllamaLifecycleAdapter(client *llm.OllamaClient, logger *slog.Logger) *OllamaLifecycleAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaLifecycleAdapter{client: client, logger: logger}
}

// WarmModel pings the server. Ollama pulls and loads the model lazily on
// the first chat, so a reachable server is the readiness signal.
func (a *OllamaLifecycleAdapter) WarmModel(ctx context.Context, model string) error {
	if a.client == nil {
		return fmt.Errorf("ollama client is nil")
	}
	if err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("warming %s: %w", model, err)
	}
	a.logger.Info("Ollama server reachable", slog.String("model", model))
	return nil
}

// IsLocal returns true.
func (a *OllamaLifecycleAdapter) IsLocal() bool { return true }

// CloudLifecycleAdapter is a no-op lifecycle manager for cloud providers.
//
// Thread Safety: CloudLifecycleAdapter is safe for concurrent use.
type CloudLifecycleAdapter struct {
	provider string
	logger   *slog.Logger
}

// NewCloudLifecycleAdapter creates a new CloudLifecycleAdapter.
func NewCloudLifecycleAdapter(provider string, logger *slog.Logger) *CloudLifecycleAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudLifecycleAdapter{provider: provider, logger: logger}
}

// WarmModel is a no-op for cloud providers. Logs the action for visibility.
func (a *CloudLifecycleAdapter) WarmModel(_ context.Context, model string) error {
	a.logger.Info("Cloud provider warmup (no-op)",
		slog.String("provider", a.provider),
		slog.String("model", model),
	)
	return nil
}

// IsLocal returns false.
func (a *CloudLifecycleAdapter) IsLocal() bool { return false }
