// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcp calls tools on their servers over JSON-RPC 2.0.
//
// Routing goes through the registry: a tool key resolves to its server
// name and the server name to a base URL. Nothing here hard-codes servers.
package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors for routing failures. Use errors.Is.
var (
	ErrToolNotFound    = errors.New("tool not found")
	ErrToolDisabled    = errors.New("tool disabled")
	ErrToolUnavailable = errors.New("tool unavailable")
	ErrUnknownServer   = errors.New("unknown server")
)

// routeError carries the user-facing message and its sentinel.
type routeError struct {
	sentinel error
	msg      string
}

func (e *routeError) Error() string { return e.msg }
func (e *routeError) Unwrap() error { return e.sentinel }

// UnknownTool reports whether the key matched no registered tool.
func (e *routeError) UnknownTool() bool { return e.sentinel == ErrToolNotFound }

func notFound(tool string) error {
	return &routeError{ErrToolNotFound, fmt.Sprintf("Tool '%s' not found", tool)}
}

func disabled(tool string) error {
	return &routeError{ErrToolDisabled, fmt.Sprintf("Tool '%s' is disabled", tool)}
}

func unavailable(tool string) error {
	return &routeError{ErrToolUnavailable, fmt.Sprintf("Tool '%s' is not available", tool)}
}

func unknownServer(server string) error {
	return &routeError{ErrUnknownServer, fmt.Sprintf("Unknown MCP server: %s", server)}
}

// TransportError is a failed exchange with a tool server.
//
// StatusCode is set for non-2xx replies; Err for connection, timeout and
// decode failures.
type TransportError struct {
	Server     string
	StatusCode int
	Body       string
	Err        error
}

// Error implements error.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("MCP server error: %d - %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("MCP execution failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }
