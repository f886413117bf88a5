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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/AleutianStrategy/services/strategy"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer with its plan",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand,
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID (default: today's session)")
	return cmd
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat loop",
		Args:  cobra.NoArgs,
		RunE:  runChatCommand,
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID (default: today's session)")
	return cmd
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	question := strings.TrimSpace(strings.Join(args, " "))
	return askOnce(ctx, newAPIClient(), cmd.OutOrStdout(), question)
}

func runChatCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	client := newAPIClient()
	fmt.Fprintln(out, dimStyle().Render("Type a question. 'exit' to quit."))
	return chatLoop(ctx, client, cmd.InOrStdin(), out)
}

func chatLoop(ctx context.Context, client *apiClient, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, titleStyle().Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" || query == "q" {
			fmt.Fprintln(out, "Goodbye.")
			return nil
		}

		if err := askOnce(ctx, client, out, query); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, errorStyle().Render("Error: "+err.Error()))
		}
	}
}

// askOnce sends one chat turn, showing a spinner on a terminal.
func askOnce(ctx context.Context, client *apiClient, out io.Writer, question string) error {
	var (
		resp *strategy.ChatResponse
		err  error
	)
	if stdoutIsTTY && !jsonOutput {
		resp, err = chatWithSpinner(ctx, client, question)
	} else {
		resp, err = client.Chat(ctx, question, conversationID)
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(out, resp)
	}
	renderChat(out, resp)
	return nil
}

// =============================================================================
// Spinner
// =============================================================================

type chatDoneMsg struct {
	resp *strategy.ChatResponse
	err  error
}

// askModel shows a spinner until the chat request returns.
type askModel struct {
	spinner  spinner.Model
	question string
	request  func() (*strategy.ChatResponse, error)
	cancel   context.CancelFunc
	result   chatDoneMsg
	done     bool
}

func newAskModel(question string, cancel context.CancelFunc, request func() (*strategy.ChatResponse, error)) askModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	return askModel{spinner: sp, question: question, request: request, cancel: cancel}
}

func (m askModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		resp, err := m.request()
		return chatDoneMsg{resp: resp, err: err}
	})
}

func (m askModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case chatDoneMsg:
		m.result = msg
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "esc" {
			m.cancel()
			m.result = chatDoneMsg{err: context.Canceled}
			m.done = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m askModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s Planning and answering: %s\n", m.spinner.View(), dimStyle().Render(m.question))
}

func chatWithSpinner(ctx context.Context, client *apiClient, question string) (*strategy.ChatResponse, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newAskModel(question, cancel, func() (*strategy.ChatResponse, error) {
		return client.Chat(reqCtx, question, conversationID)
	})
	final, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("spinner: %w", err)
	}
	result := final.(askModel).result
	return result.resp, result.err
}
