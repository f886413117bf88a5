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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianStrategy/services/strategy"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/engine"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/history"
	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// isTerminal reports whether f is an interactive terminal. Styling, the
// spinner and the tool picker are skipped when it is not.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var stdoutIsTTY = isTerminal(os.Stdout)

func style(s lipgloss.Style) lipgloss.Style {
	if !stdoutIsTTY {
		return lipgloss.NewStyle()
	}
	return s
}

func titleStyle() lipgloss.Style {
	return style(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")))
}

func dimStyle() lipgloss.Style {
	return style(lipgloss.NewStyle().Foreground(lipgloss.Color("245")))
}

func okStyle() lipgloss.Style {
	return style(lipgloss.NewStyle().Foreground(lipgloss.Color("42")))
}

func warnStyle() lipgloss.Style {
	return style(lipgloss.NewStyle().Foreground(lipgloss.Color("214")))
}

func errorStyle() lipgloss.Style {
	return style(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")))
}

func answerStyle() lipgloss.Style {
	return style(lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderChat formats one chat turn: the answer, then the plan that
// produced it.
func renderChat(w io.Writer, resp *strategy.ChatResponse) {
	if resp.Error != "" {
		fmt.Fprintln(w, errorStyle().Render("Synthesis failed: "+resp.Error))
	}
	fmt.Fprintln(w, answerStyle().Render(resp.Message))

	s := resp.Strategy
	if s == nil {
		return
	}
	if s.ParseFailed {
		fmt.Fprintln(w, warnStyle().Render("Plan could not be parsed: "+s.ParseErrorMessage))
	} else if len(s.Steps) > 0 {
		fmt.Fprintln(w, titleStyle().Render("Plan"))
		for _, st := range s.Steps {
			fmt.Fprintln(w, renderStep(st))
		}
	}
	fmt.Fprintln(w, dimStyle().Render(fmt.Sprintf(
		"[path: %s, plan %dms, tools %dms, answer %dms, conversation: %s]",
		pathLabel(s.SynthesisPath), s.PlanLatencyMs, s.ExecutionMs, s.FinalLatencyMs, resp.ConversationID,
	)))
}

func pathLabel(p engine.SynthesisPath) string {
	if p == engine.PathNone {
		return "none"
	}
	return string(p)
}

func renderStep(st *engine.Step) string {
	mark := okStyle().Render("ok")
	switch {
	case !st.Executed():
		mark = dimStyle().Render("--")
	case st.Failed():
		mark = errorStyle().Render("!!")
	}
	line := fmt.Sprintf("  %s %d. %s", mark, st.Index, st.ToolKey)
	if st.Executed() {
		line += dimStyle().Render(fmt.Sprintf(" (%dms)", st.DurationMs))
	}
	if st.Rationale != "" {
		line += "\n       " + dimStyle().Render(st.Rationale)
	}
	if st.Failed() {
		line += "\n       " + errorStyle().Render(fmt.Sprint(st.Output["error"]))
	}
	return line
}

// renderTools prints the catalog as an aligned table.
func renderTools(w io.Writer, tools []registry.Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(w, dimStyle().Render("(no tools in catalog)"))
		return
	}
	keyWidth := len("TOOL")
	for _, t := range tools {
		keyWidth = max(keyWidth, len(t.Key))
	}
	fmt.Fprintln(w, titleStyle().Render(fmt.Sprintf("%-*s  %-8s  %-9s  %s", keyWidth, "TOOL", "ENABLED", "AVAILABLE", "SERVER")))
	for _, t := range tools {
		enabled := yesNo(t.Enabled)
		available := yesNo(t.Available)
		row := fmt.Sprintf("%-*s  %-8s  %-9s  %s", keyWidth, t.Key, enabled, available, t.ServerName)
		if t.Callable() {
			fmt.Fprintln(w, okStyle().Render(row))
		} else {
			fmt.Fprintln(w, dimStyle().Render(row))
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderStatus(w io.Writer, st *strategy.StatusResponse) {
	state := okStyle().Render(st.Status)
	if !st.Warm {
		state = warnStyle().Render(st.Status + " (warming up)")
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle().Render("Server:"), state)
	fmt.Fprintf(w, "%s %s/%s (local=%t)\n", titleStyle().Render("Planner:"), st.Planner.Provider, st.Planner.Model, st.Planner.Local)
	fmt.Fprintf(w, "%s %s/%s (local=%t)\n", titleStyle().Render("Synthesizer:"), st.Synthesizer.Provider, st.Synthesizer.Model, st.Synthesizer.Local)
	fmt.Fprintf(w, "%s %d total, %d enabled, %d available, %d callable\n",
		titleStyle().Render("Tools:"), st.Tools.Total, st.Tools.Enabled, st.Tools.Available, st.Tools.Callable)
	if st.Tools.LastLoadErr != "" {
		fmt.Fprintln(w, warnStyle().Render("  last catalog load failed: "+st.Tools.LastLoadErr))
	}
	for _, srv := range st.Servers {
		mark := okStyle().Render("up  ")
		if !srv.Available {
			mark = errorStyle().Render("down")
		}
		line := fmt.Sprintf("  %s %s %s", mark, srv.Name, dimStyle().Render(srv.URL))
		if srv.Error != "" {
			line += " " + dimStyle().Render(srv.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s %t   %s %ds\n", titleStyle().Render("History:"), st.HistoryEnabled,
		titleStyle().Render("Uptime:"), st.UptimeSeconds)
}

func renderHistory(w io.Writer, conversationID string, entries []history.Entry) {
	fmt.Fprintln(w, titleStyle().Render("Conversation "+conversationID))
	if len(entries) == 0 {
		fmt.Fprintln(w, dimStyle().Render("  (empty)"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s %s\n", dimStyle().Render(e.Timestamp.Format("2006-01-02 15:04:05")), e.UserMessage)
		tools := "no tools"
		if len(e.Strategy.ToolKeys) > 0 {
			tools = strings.Join(e.Strategy.ToolKeys, ", ")
		}
		fmt.Fprintf(w, "  %s\n", dimStyle().Render(fmt.Sprintf("[%s, %dms]", tools, e.Strategy.TotalMs)))
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e.Response, "\n", "\n  "))
	}
}
