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
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds one availability probe.
const DefaultProbeTimeout = 3 * time.Second

// AvailabilityProber checks whether a tool server is reachable.
type AvailabilityProber interface {
	// Probe returns nil iff the server at baseURL answered in time.
	Probe(ctx context.Context, baseURL string) error
}

// HTTPProber probes GET {baseURL}/tools/descriptions.
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPProber creates a prober with DefaultProbeTimeout.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{Client: &http.Client{}, Timeout: DefaultProbeTimeout}
}

// Probe implements AvailabilityProber. Any 2xx counts as available.
func (p *HTTPProber) Probe(ctx context.Context, baseURL string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/tools/descriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return nil
}
