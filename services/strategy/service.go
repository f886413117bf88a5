// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategy exposes the strategy orchestration engine over HTTP.
//
// Service ties the orchestrator to the tool registry and conversation
// history; Handlers adapt Service to gin; RegisterRoutes mounts them.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianStrategy/services/llm"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/history"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
)

// ErrToolNotFound is returned by Service.ToggleTool for unknown keys.
var ErrToolNotFound = errors.New("tool not found")

// ErrHistoryDisabled is returned when no history store is configured.
var ErrHistoryDisabled = errors.New("conversation history is disabled")

// Orchestrator runs one chat turn. *engine.Orchestrator satisfies it.
type Orchestrator interface {
	ProcessObserved(ctx context.Context, userMessage string, obs engine.Observer, opts ...engine.TurnOption) (*engine.Strategy, string)
}

// ToolCatalog is the registry surface the HTTP API needs.
// *registry.Registry satisfies it.
type ToolCatalog interface {
	All() []registry.Tool
	Get(key string) (registry.Tool, bool)
	Toggle(key string) bool
	SetEnabled(key string, enabled bool) bool
	EnabledTools() map[string]registry.Tool
	Servers() []registry.ServerStatus
	Stats() registry.Stats
	Discover(ctx context.Context) error
}

// HistoryStore persists chat turns. *history.Store satisfies it.
type HistoryStore interface {
	Append(ctx context.Context, e history.Entry) error
	Recent(ctx context.Context, conversationID string, n int) ([]history.Entry, error)
	Clear(ctx context.Context, conversationID string) (int, error)
	ClearAll(ctx context.Context) (int, error)
}

// ProviderInfo describes the backend serving one LLM role.
type ProviderInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Local    bool   `json:"local"`
}

// ServiceConfig holds the service's static settings.
type ServiceConfig struct {
	// RecentHistory is how many turns GET /api/chat/history returns and
	// how many earlier turns each chat prompt sees.
	RecentHistory int

	// Planner and Synthesizer are reported by GET /api/status.
	Planner     ProviderInfo
	Synthesizer ProviderInfo

	// Version is reported by GET /health.
	Version string
}

// DefaultServiceConfig returns the service defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{RecentHistory: history.DefaultRecent, Version: "dev"}
}

// Service runs chat turns and answers the API's read and admin calls.
//
// Thread Safety: Safe for concurrent use. Each turn owns its Strategy.
type Service struct {
	cfg     ServiceConfig
	orch    Orchestrator
	tools   ToolCatalog
	history HistoryStore
	logger  *slog.Logger
	now     func() time.Time
	started time.Time
	warm    atomic.Bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHistory enables conversation history.
func WithHistory(h HistoryStore) ServiceOption {
	return func(s *Service) { s.history = h }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. The service starts cold; call MarkWarm once
// the LLM backends are ready.
func NewService(cfg ServiceConfig, orch Orchestrator, tools ToolCatalog, opts ...ServiceOption) *Service {
	if cfg.RecentHistory <= 0 {
		cfg.RecentHistory = history.DefaultRecent
	}
	s := &Service{
		cfg:    cfg,
		orch:   orch,
		tools:  tools,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	return s
}

// MarkWarm records that model warmup finished.
func (s *Service) MarkWarm() { s.warm.Store(true) }

// IsWarm reports whether warmup finished.
func (s *Service) IsWarm() bool { return s.warm.Load() }

// ChatResult is the outcome of one turn.
type ChatResult struct {
	Answer         string
	ConversationID string
	Strategy       *engine.Strategy
	MCPEnabled     bool
	Error          string
	Timestamp      time.Time
}

// Chat runs one turn and records it in history.
//
// Description:
//
//	An empty conversationID selects the day-scoped default conversation.
//	The conversation's recent turns are passed to the answer prompts.
//	History read and write failures are logged and do not fail the turn.
//	Error is set when synthesis failed and the answer is the apology.
func (s *Service) Chat(ctx context.Context, message, conversationID string, obs engine.Observer) ChatResult {
	if conversationID == "" {
		conversationID = history.DefaultConversationID(s.now())
	}

	strat, answer := s.orch.ProcessObserved(ctx, message, obs, s.priorTurns(ctx, conversationID)...)

	res := ChatResult{
		Answer:         answer,
		ConversationID: conversationID,
		Strategy:       strat,
		MCPEnabled:     len(s.tools.EnabledTools()) > 0,
		Timestamp:      s.now(),
	}
	if strat != nil && engine.IsLLMSentinel(strat.FinalResponse) {
		res.Error = strings.TrimPrefix(strat.FinalResponse, "ERROR: ")
	}

	if s.history != nil && strat != nil {
		entry := history.Entry{
			ConversationID: conversationID,
			Timestamp:      res.Timestamp,
			UserMessage:    message,
			Response:       answer,
			Strategy: history.StrategyInfo{
				StrategyID:    strat.ID,
				ToolKeys:      strat.ToolKeys(),
				ParseFailed:   strat.ParseFailed,
				SynthesisPath: string(strat.SynthesisPath),
				TotalMs:       strat.TotalLatencyMs(),
			},
		}
		if err := s.history.Append(ctx, entry); err != nil {
			s.logger.Warn("Failed to record chat history",
				slog.String("conversation_id", conversationID),
				slog.String("error", llm.SafeLogString(err.Error())),
			)
		}
	}
	return res
}

// priorTurns loads the conversation's recent turns as turn options.
func (s *Service) priorTurns(ctx context.Context, conversationID string) []engine.TurnOption {
	if s.history == nil {
		return nil
	}
	recent, err := s.history.Recent(ctx, conversationID, s.cfg.RecentHistory)
	if err != nil {
		s.logger.Warn("Failed to load chat history",
			slog.String("conversation_id", conversationID),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		return nil
	}
	if len(recent) == 0 {
		return nil
	}
	return []engine.TurnOption{engine.WithConversationContext(history.FormatContext(recent))}
}

// History returns the conversation's recent turns.
func (s *Service) History(ctx context.Context, conversationID string) (string, []history.Entry, error) {
	if s.history == nil {
		return conversationID, nil, ErrHistoryDisabled
	}
	if conversationID == "" {
		conversationID = history.DefaultConversationID(s.now())
	}
	entries, err := s.history.Recent(ctx, conversationID, s.cfg.RecentHistory)
	return conversationID, entries, err
}

// ClearHistory deletes one conversation, or all of them when all is set.
func (s *Service) ClearHistory(ctx context.Context, conversationID string, all bool) (int, error) {
	if s.history == nil {
		return 0, ErrHistoryDisabled
	}
	if all {
		return s.history.ClearAll(ctx)
	}
	if conversationID == "" {
		conversationID = history.DefaultConversationID(s.now())
	}
	return s.history.Clear(ctx, conversationID)
}

// ToggleTool flips a tool's Enabled flag.
func (s *Service) ToggleTool(key string) (bool, error) {
	if _, ok := s.tools.Get(key); !ok {
		return false, fmt.Errorf("%w: %s", ErrToolNotFound, key)
	}
	return s.tools.Toggle(key), nil
}

// SetToolEnabled sets a tool's Enabled flag explicitly.
func (s *Service) SetToolEnabled(key string, enabled bool) error {
	if !s.tools.SetEnabled(key, enabled) {
		return fmt.Errorf("%w: %s", ErrToolNotFound, key)
	}
	return nil
}

// Tools returns the full catalog.
func (s *Service) Tools() []registry.Tool { return s.tools.All() }

// Refresh reloads the catalog and re-probes every server.
func (s *Service) Refresh(ctx context.Context) (registry.Stats, error) {
	err := s.tools.Discover(ctx)
	return s.tools.Stats(), err
}

// Status summarizes the registry and providers.
func (s *Service) Status() StatusResponse {
	stats := s.tools.Stats()
	return StatusResponse{
		Status:         "ok",
		Warm:           s.IsWarm(),
		Tools:          stats,
		Servers:        s.tools.Servers(),
		Planner:        s.cfg.Planner,
		Synthesizer:    s.cfg.Synthesizer,
		MCPEnabled:     stats.Callable > 0,
		HistoryEnabled: s.history != nil,
		UptimeSeconds:  int64(s.now().Sub(s.started).Seconds()),
	}
}
