// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists per-conversation chat turns in BadgerDB.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	badgerstore "github.com/AleutianAI/AleutianStrategy/services/strategy/storage/badger"
	dgbadger "github.com/dgraph-io/badger/v4"
)

// KeyPrefix is the storage layout version prefix for every history key.
const KeyPrefix = "history/v1/"

const (
	// DefaultMaxEntries caps the stored turns per conversation.
	DefaultMaxEntries = 20

	// DefaultRecent is how many turns Recent returns when n <= 0.
	DefaultRecent = 5
)

// ErrInvalidConversationID is returned for IDs that would break the key
// layout.
var ErrInvalidConversationID = errors.New("history: invalid conversation id")

// Entry is one stored chat turn.
type Entry struct {
	ConversationID string       `json:"conversation_id"`
	Timestamp      time.Time    `json:"timestamp"`
	UserMessage    string       `json:"user_message"`
	Response       string       `json:"ai_response"`
	Strategy       StrategyInfo `json:"strategy_info"`
}

// StrategyInfo summarizes the plan that produced an entry's response.
type StrategyInfo struct {
	StrategyID    string   `json:"strategy_id,omitempty"`
	ToolKeys      []string `json:"tool_keys,omitempty"`
	ParseFailed   bool     `json:"parse_failed,omitempty"`
	SynthesisPath string   `json:"synthesis_path,omitempty"`
	TotalMs       int64    `json:"total_ms,omitempty"`
}

// DefaultConversationID returns the day-scoped ID used when a client sends
// none, e.g. "session_2026-10-18".
func DefaultConversationID(now time.Time) string {
	return "session_" + now.Format("2006-01-02")
}

// Store reads and writes conversation history.
//
// # Description
//
// Keys are history/v1/{conversation_id}/{unix_nano}-{seq}, with both
// numbers zero-padded so lexical key order is chronological. seq is a
// per-Store counter, so two turns stamped with the same instant keep
// separate keys in append order. After every Append
// the conversation is trimmed to MaxEntries, oldest first. Entries carry
// the configured TTL and vanish through Badger's own expiry.
//
// # Thread Safety
//
// Safe for concurrent use. Appends to the same conversation from two
// goroutines may briefly exceed MaxEntries until the next trim.
type Store struct {
	db         *badgerstore.DB
	maxEntries int
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
	seq        atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries sets the per-conversation cap. Values <= 0 are ignored.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithTTL sets the entry lifetime. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store on db. The caller owns db.
func NewStore(db *badgerstore.DB, opts ...Option) *Store {
	if db == nil {
		panic("history.NewStore: db must not be nil")
	}
	s := &Store{
		db:         db,
		maxEntries: DefaultMaxEntries,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores e under its conversation and trims the conversation to the
// cap. A zero Timestamp is set to now.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if err := validateID(e.ConversationID); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: encode entry: %w", err)
	}

	key := entryKey(e.ConversationID, e.Timestamp, s.seq.Add(1))
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}

	return s.trim(ctx, e.ConversationID)
}

// trim deletes the oldest entries beyond maxEntries.
func (s *Store) trim(ctx context.Context, conversationID string) error {
	keys, err := s.keys(ctx, conversationPrefix(conversationID))
	if err != nil {
		return err
	}
	excess := len(keys) - s.maxEntries
	if excess <= 0 {
		return nil
	}
	if err := s.deleteKeys(ctx, keys[:excess]); err != nil {
		return fmt.Errorf("history: trim: %w", err)
	}
	s.logger.Debug("history trimmed",
		slog.String("conversation_id", conversationID),
		slog.Int("removed", excess),
	)
	return nil
}

// Recent returns up to n of the conversation's newest entries, oldest
// first. n <= 0 uses DefaultRecent.
func (s *Store) Recent(ctx context.Context, conversationID string, n int) ([]Entry, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultRecent
	}
	all, err := s.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// List returns every stored entry of the conversation, oldest first.
func (s *Store) List(ctx context.Context, conversationID string) ([]Entry, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	prefix := conversationPrefix(conversationID)

	var out []Entry
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value: %w", err)
			}
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				s.logger.Warn("history: skipping undecodable entry",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Conversations returns the IDs that have stored entries, sorted.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	keys, err := s.keys(ctx, []byte(KeyPrefix))
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := make(map[string]bool)
	for _, k := range keys {
		rest := strings.TrimPrefix(string(k), KeyPrefix)
		i := strings.LastIndexByte(rest, '/')
		if i <= 0 {
			continue
		}
		id := rest[:i]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Clear deletes one conversation's entries and returns how many were removed.
func (s *Store) Clear(ctx context.Context, conversationID string) (int, error) {
	if err := validateID(conversationID); err != nil {
		return 0, err
	}
	return s.clearPrefix(ctx, conversationPrefix(conversationID))
}

// ClearAll deletes every conversation.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	return s.clearPrefix(ctx, []byte(KeyPrefix))
}

func (s *Store) clearPrefix(ctx context.Context, prefix []byte) (int, error) {
	keys, err := s.keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return 0, fmt.Errorf("history: clear: %w", err)
	}
	s.logger.Info("history cleared",
		slog.String("prefix", string(prefix)),
		slog.Int("removed", len(keys)),
	)
	return len(keys), nil
}

// keys lists keys under prefix in ascending order.
func (s *Store) keys(ctx context.Context, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan keys: %w", err)
	}
	return keys, nil
}

// deleteKeys removes keys in batches small enough for one transaction.
func (s *Store) deleteKeys(ctx context.Context, keys [][]byte) error {
	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
			for _, k := range keys[start:end] {
				if err := txn.Delete(k); err != nil && !errors.Is(err, dgbadger.ErrKeyNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func validateID(id string) error {
	if id == "" || strings.Contains(id, "/") || len(id) > 256 {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
	}
	return nil
}

func conversationPrefix(id string) []byte {
	return []byte(KeyPrefix + id + "/")
}

func entryKey(id string, ts time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d-%020d", KeyPrefix, id, ts.UnixNano(), seq))
}
