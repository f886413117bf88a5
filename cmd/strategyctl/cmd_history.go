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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/history"
	badgerstore "github.com/AleutianAI/AleutianStrategy/services/strategy/storage/badger"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server, model and tool server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := newAPIClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			renderStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	hist := &cobra.Command{
		Use:   "history",
		Short: "Show, clear or dump conversation history",
	}
	hist.PersistentFlags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID (default: today's session)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the recent turns of a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newAPIClient().History(cmd.Context(), conversationID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			renderHistory(cmd.OutOrStdout(), resp.ConversationID, resp.Entries)
			return nil
		},
	}

	var clearAll bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a conversation's history (or all with --all)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newAPIClient().ClearHistory(cmd.Context(), conversationID, clearAll)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries.\n", resp.Removed)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every conversation")

	var dbPath string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print every stored conversation straight from the history database",
		Long: "Opens the BadgerDB history directory read-only and prints its contents.\n" +
			"strategyd holds an exclusive lock while running, so stop it first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				dbPath = defaultHistoryDir()
			}
			return dumpHistory(cmd.Context(), dbPath, conversationID, cmd.OutOrStdout())
		},
	}
	dump.Flags().StringVar(&dbPath, "path", "", "History database directory (default $STRATEGY_HISTORY_DIR or ~/.aleutian/strategy/history)")

	hist.AddCommand(show, clearCmd, dump)
	return hist
}

func defaultHistoryDir() string {
	if dir := os.Getenv("STRATEGY_HISTORY_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aleutian", "strategy", "history")
}

// dumpHistory prints one conversation, or all of them when id is empty.
func dumpHistory(ctx context.Context, path, id string, out io.Writer) error {
	if path == "" {
		return errors.New("no history path: pass --path or set STRATEGY_HISTORY_DIR")
	}
	db, err := badgerstore.OpenDB(badgerstore.Config{Path: path, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	store := history.NewStore(db)
	ids := []string{id}
	if id == "" {
		if ids, err = store.Conversations(ctx); err != nil {
			return err
		}
	}

	dump := make(map[string][]history.Entry, len(ids))
	for _, cid := range ids {
		entries, err := store.List(ctx, cid)
		if err != nil {
			return fmt.Errorf("listing %s: %w", cid, err)
		}
		dump[cid] = entries
	}

	if jsonOutput {
		return writeJSON(out, dump)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, dimStyle().Render("(no conversations)"))
	}
	for _, cid := range ids {
		renderHistory(out, cid, dump[cid])
	}
	return nil
}
