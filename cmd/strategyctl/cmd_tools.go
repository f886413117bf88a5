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
	"slices"

	"github.com/AleutianAI/AleutianStrategy/services/strategy/registry"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newToolsCommand() *cobra.Command {
	tools := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and toggle the tool catalog",
	}

	tools.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tools with their enabled and available flags",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				resp, err := newAPIClient().Tools(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				renderTools(cmd.OutOrStdout(), resp.Tools)
				return nil
			},
		},
		&cobra.Command{
			Use:   "toggle <tool_key>",
			Short: "Flip a tool's enabled flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := newAPIClient().Toggle(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				state := okStyle().Render("enabled")
				if !resp.Enabled {
					state = warnStyle().Render("disabled")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", resp.ToolKey, state)
				return nil
			},
		},
		&cobra.Command{
			Use:   "pick",
			Short: "Choose enabled tools interactively",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if !isTerminal(os.Stdin) {
					return errors.New("tools pick needs an interactive terminal; use 'tools toggle' instead")
				}
				return runToolPicker(cmd.Context(), newAPIClient(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Reload the catalog and re-probe tool servers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				resp, err := newAPIClient().Refresh(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				if resp.Warning != "" {
					fmt.Fprintln(cmd.OutOrStdout(), warnStyle().Render("Catalog reload failed, previous catalog kept: "+resp.Warning))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d tools, %d callable\n", resp.Stats.Total, resp.Stats.Callable)
				return nil
			},
		},
	)
	return tools
}

// runToolPicker shows a multi-select of every tool with the enabled ones
// preselected, then applies the difference.
func runToolPicker(ctx context.Context, client *apiClient, out io.Writer) error {
	resp, err := client.Tools(ctx)
	if err != nil {
		return err
	}
	if len(resp.Tools) == 0 {
		fmt.Fprintln(out, dimStyle().Render("(no tools in catalog)"))
		return nil
	}

	options := make([]huh.Option[string], 0, len(resp.Tools))
	var selected []string
	for _, t := range resp.Tools {
		label := t.Key
		if !t.Available {
			label += " (server down)"
		}
		options = append(options, huh.NewOption(label, t.Key).Selected(t.Enabled))
		if t.Enabled {
			selected = append(selected, t.Key)
		}
	}

	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Enabled tools").
			Description("space to toggle, enter to apply").
			Options(options...).
			Value(&selected),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(out, "No changes.")
			return nil
		}
		return err
	}

	changes := planToggles(resp.Tools, selected)
	if len(changes) == 0 {
		fmt.Fprintln(out, "No changes.")
		return nil
	}
	for _, ch := range changes {
		if err := client.SetEnabled(ctx, ch.key, ch.enabled); err != nil {
			return fmt.Errorf("setting %s: %w", ch.key, err)
		}
		state := okStyle().Render("enabled")
		if !ch.enabled {
			state = warnStyle().Render("disabled")
		}
		fmt.Fprintf(out, "%s %s\n", ch.key, state)
	}
	return nil
}

type toolChange struct {
	key     string
	enabled bool
}

// planToggles returns the enabled-flag changes needed so that exactly the
// selected keys are enabled, in catalog order.
func planToggles(tools []registry.Tool, selected []string) []toolChange {
	var changes []toolChange
	for _, t := range tools {
		want := slices.Contains(selected, t.Key)
		if want != t.Enabled {
			changes = append(changes, toolChange{key: t.Key, enabled: want})
		}
	}
	return changes
}
