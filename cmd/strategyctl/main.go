// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// strategyctl is the command-line client for strategyd.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Flag values shared by subcommands.
var (
	serverURL      string
	conversationID string
	requestTimeout time.Duration
	jsonOutput     bool
	verbose        bool
)

func getServerBaseURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("STRATEGY_SERVER_URL"); env != "" {
		return env
	}
	return "http://localhost:8090"
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "strategyctl",
		Short:         "Talk to the strategy orchestration server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "", "strategyd base URL (default $STRATEGY_SERVER_URL or http://localhost:8090)")
	root.PersistentFlags().DurationVar(&requestTimeout, "timeout", 5*time.Minute, "HTTP request timeout")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON responses")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newAskCommand(),
		newChatCommand(),
		newToolsCommand(),
		newStatusCommand(),
		newHistoryCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle().Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
