// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the catalog of callable tools and their
// enabled/available flags.
//
// The registry is the only state shared between concurrent user turns.
// Every read returns a copy, so a plan built from one EnabledTools snapshot
// is never changed underneath the caller by a concurrent Toggle or
// availability refresh.
//
// Thread Safety:
//
//	All exported methods on Registry are safe for concurrent use.
package registry

import "time"

// Tool is one callable capability exposed by a tool server.
//
// A tool is callable iff Enabled && Available.
type Tool struct {
	// Key is the unique identifier the planner references in plans.
	Key string `json:"tool_key"`

	// DisplayName is a human label for UIs.
	DisplayName string `json:"tool_name"`

	// Description is shown to the planning LLM.
	Description string `json:"description"`

	// ServerName names the tool server that executes this tool.
	ServerName string `json:"mcp_server_name"`

	// Remarks is optional operator text appended to the description.
	Remarks string `json:"remarks,omitempty"`

	// Enabled is the operator toggle.
	Enabled bool `json:"enabled"`

	// Available is the last known liveness of ServerName.
	Available bool `json:"available"`
}

// Callable reports whether the planner may use the tool.
func (t Tool) Callable() bool {
	return t.Enabled && t.Available
}

// CatalogEntry is one tool as described by a catalog source.
type CatalogEntry struct {
	Key         string `json:"tool_key" yaml:"tool_key" validate:"required,max=128"`
	DisplayName string `json:"tool_name" yaml:"tool_name"`
	Description string `json:"description" yaml:"description"`
	ServerName  string `json:"mcp_server_name" yaml:"mcp_server_name" validate:"required"`
	Remarks     string `json:"remarks" yaml:"remarks"`
}

// Catalog is the result of one catalog fetch.
//
// Servers maps server names to base URLs. Sources that only know tool
// metadata (the management API) leave it empty and the registry falls
// back to its configured server table.
type Catalog struct {
	Tools   []CatalogEntry    `json:"tools" yaml:"tools"`
	Servers map[string]string `json:"servers,omitempty" yaml:"servers"`
}

// ServerStatus is the last probe result for one tool server.
type ServerStatus struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

// Stats summarizes the registry for status endpoints.
type Stats struct {
	Total       int       `json:"total"`
	Enabled     int       `json:"enabled"`
	Available   int       `json:"available"`
	Callable    int       `json:"callable"`
	LastLoad    time.Time `json:"last_load"`
	LastLoadErr string    `json:"last_load_error,omitempty"`
}

// EnablePolicy decides the initial Enabled flag of a newly discovered tool.
type EnablePolicy string

const (
	// EnableAvailable enables a new tool iff its server answered the first
	// probe after discovery.
	EnableAvailable EnablePolicy = "available"

	// EnableAll enables every new tool.
	EnableAll EnablePolicy = "all"

	// EnableNone leaves every new tool disabled until toggled.
	EnableNone EnablePolicy = "none"
)

// ParseEnablePolicy maps a config string to a policy. Empty selects
// EnableAvailable.
func ParseEnablePolicy(s string) (EnablePolicy, bool) {
	switch EnablePolicy(s) {
	case "", EnableAvailable:
		return EnableAvailable, true
	case EnableAll:
		return EnableAll, true
	case EnableNone:
		return EnableNone, true
	default:
		return "", false
	}
}
