// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxCatalogBytes caps catalog payloads read from any source.
const maxCatalogBytes = 8 << 20

// CatalogSource produces the tool catalog.
//
// Implementations must be safe for concurrent use.
type CatalogSource interface {
	// Fetch returns the current catalog. An error means "keep the old one".
	Fetch(ctx context.Context) (Catalog, error)

	// Name identifies the source in logs.
	Name() string
}

// HTTPCatalogSource reads the catalog from the management API.
//
// GET {BaseURL}/api/tools returns either {"tools":[...]} or a bare array
// of entries.
type HTTPCatalogSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPCatalogSource creates a source with a 10s client timeout.
func NewHTTPCatalogSource(baseURL string) *HTTPCatalogSource {
	return &HTTPCatalogSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements CatalogSource.
func (s *HTTPCatalogSource) Name() string { return "http:" + s.BaseURL }

// Fetch implements CatalogSource.
func (s *HTTPCatalogSource) Fetch(ctx context.Context) (Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/tools", nil)
	if err != nil {
		return Catalog{}, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return Catalog{}, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Catalog{}, fmt.Errorf("catalog endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodeJSONCatalog(body)
}

// decodeJSONCatalog accepts both the wrapped and the bare-array shapes.
func decodeJSONCatalog(body []byte) (Catalog, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []CatalogEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return Catalog{}, fmt.Errorf("decode catalog array: %w", err)
		}
		return Catalog{Tools: entries}, nil
	}

	var cat Catalog
	if err := json.Unmarshal(trimmed, &cat); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return cat, nil
}

// FileCatalogSource reads a YAML catalog from disk.
//
// The file has the same shape as Catalog:
//
//	servers:
//	  search: http://localhost:9001
//	tools:
//	  - tool_key: web_search
//	    mcp_server_name: search
type FileCatalogSource struct {
	Path string
}

// Name implements CatalogSource.
func (s *FileCatalogSource) Name() string { return "file:" + s.Path }

// Fetch implements CatalogSource.
func (s *FileCatalogSource) Fetch(_ context.Context) (Catalog, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog file: %w", err)
	}
	return decodeYAMLCatalog(data)
}

func decodeYAMLCatalog(data []byte) (Catalog, error) {
	if len(data) > maxCatalogBytes {
		return Catalog{}, fmt.Errorf("catalog too large: %d bytes", len(data))
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return cat, nil
}

// ServerDescriptionsSource discovers tools from the servers themselves.
//
// Each server answers GET {url}/tools/descriptions with
// {"tools":[{"name","description","usage_context"}]}. usage_context is
// preferred as the planner-facing description. Servers that fail are
// skipped; the fetch fails only if every server failed.
type ServerDescriptionsSource struct {
	Servers map[string]string
	Client  *http.Client
}

// NewServerDescriptionsSource creates a source with a 10s client timeout.
func NewServerDescriptionsSource(servers map[string]string) *ServerDescriptionsSource {
	return &ServerDescriptionsSource{Servers: servers, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Name implements CatalogSource.
func (s *ServerDescriptionsSource) Name() string { return "servers" }

type serverToolDescription struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	UsageContext string `json:"usage_context"`
}

// Fetch implements CatalogSource.
func (s *ServerDescriptionsSource) Fetch(ctx context.Context) (Catalog, error) {
	cat := Catalog{Servers: make(map[string]string, len(s.Servers))}
	var failures []string

	names := make([]string, 0, len(s.Servers))
	for name := range s.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, server := range names {
		base := strings.TrimRight(s.Servers[server], "/")
		cat.Servers[server] = base

		descs, err := s.fetchOne(ctx, base)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", server, err))
			continue
		}
		for _, d := range descs {
			desc := d.UsageContext
			if desc == "" {
				desc = d.Description
			}
			cat.Tools = append(cat.Tools, CatalogEntry{
				Key:         d.Name,
				DisplayName: d.Name,
				Description: desc,
				ServerName:  server,
			})
		}
	}

	if len(names) > 0 && len(failures) == len(names) {
		return Catalog{}, fmt.Errorf("no tool server answered: %s", strings.Join(failures, "; "))
	}
	return cat, nil
}

func (s *ServerDescriptionsSource) fetchOne(ctx context.Context, base string) ([]serverToolDescription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tools/descriptions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload struct {
		Tools []serverToolDescription `json:"tools"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode descriptions: %w", err)
	}
	return payload.Tools, nil
}
