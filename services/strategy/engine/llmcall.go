// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// completion is the outcome of one bounded LLM call.
type completion struct {
	text    string
	latency time.Duration
	err     error
}

// complete runs one LLM call under timeout and converts panics to errors.
//
// The call runs in its own goroutine so a completer that ignores ctx
// still cannot hold the turn past the deadline.
func complete(ctx context.Context, c Completer, timeout time.Duration, system, user string, maxTokens int, temperature float64) completion {
	start := time.Now()
	if c == nil {
		return completion{err: fmt.Errorf("no LLM completer configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan completion, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("LLM completer panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				done <- completion{err: fmt.Errorf("LLM call panicked: %v", r)}
			}
		}()
		text, err := c.Complete(ctx, system, user, maxTokens, temperature)
		done <- completion{text: text, err: err}
	}()

	select {
	case res := <-done:
		res.latency = time.Since(start)
		return res
	case <-ctx.Done():
		return completion{latency: time.Since(start), err: fmt.Errorf("LLM call: %w", ctx.Err())}
	}
}

// render renders a named prompt, treating a nil renderer as an error.
func render(ctx context.Context, r PromptRenderer, name string, vars map[string]string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("no prompt renderer configured")
	}
	return r.Render(ctx, name, vars)
}
