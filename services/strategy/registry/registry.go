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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const registryTracerName = "strategy.registry"

// defaultProbeConcurrency bounds simultaneous server probes.
const defaultProbeConcurrency = 8

// ErrNoCatalogSource is returned by LoadCatalog when the registry was built
// without a source.
var ErrNoCatalogSource = errors.New("registry: no catalog source configured")

// entry is the registry's owned record for one tool.
//
// pendingDefault is set for tools discovered under EnableAvailable whose
// server has not been probed yet; the first probe decides Enabled.
type entry struct {
	tool           Tool
	pendingDefault bool
}

// Registry is the typed, synchronized tool catalog.
//
// Description:
//
//	Holds tools keyed by Key, the server table used to route calls and the
//	last probe result per server. Catalog reloads replace the tool set as
//	a whole; operator toggles survive reloads for keys that still exist.
//
// Thread Safety: All methods are safe for concurrent use. A single
// sync.RWMutex guards every field below it.
type Registry struct {
	source           CatalogSource
	prober           AvailabilityProber
	policy           EnablePolicy
	probeConcurrency int
	validate         *validator.Validate
	logger           *slog.Logger

	mu          sync.RWMutex
	tools       map[string]*entry
	baseServers map[string]string
	servers     map[string]string
	status      map[string]ServerStatus
	lastLoad    time.Time
	lastLoadErr error
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalogSource sets where LoadCatalog reads from.
func WithCatalogSource(src CatalogSource) Option {
	return func(r *Registry) { r.source = src }
}

// WithProber sets the availability prober.
func WithProber(p AvailabilityProber) Option {
	return func(r *Registry) { r.prober = p }
}

// WithEnablePolicy sets the default-enable policy for new tools.
func WithEnablePolicy(p EnablePolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithServers seeds the server table (server name to base URL). Catalog
// sources that carry their own table override entries per name.
func WithServers(servers map[string]string) Option {
	return func(r *Registry) {
		for name, url := range servers {
			r.baseServers[name] = url
		}
	}
}

// WithProbeConcurrency bounds simultaneous probes. Values below 1 are ignored.
func WithProbeConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.probeConcurrency = n
		}
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry.
//
// Inputs:
//
//	opts - Source, prober, policy and server table. A registry with no
//	prober treats every server as unavailable after a refresh.
//
// Outputs:
//
//	*Registry - Empty until LoadCatalog succeeds.
func New(opts ...Option) *Registry {
	r := &Registry{
		policy:           EnableAvailable,
		probeConcurrency: defaultProbeConcurrency,
		validate:         validator.New(),
		logger:           slog.Default(),
		tools:            make(map[string]*entry),
		baseServers:      make(map[string]string),
		servers:          make(map[string]string),
		status:           make(map[string]ServerStatus),
	}
	for _, opt := range opts {
		opt(r)
	}
	for name, url := range r.baseServers {
		r.servers[name] = url
	}
	return r
}

// LoadCatalog replaces the tool set from the catalog source.
//
// Description:
//
//	Fails softly. If the source errors, the previous catalog stays in place
//	and the error is returned for diagnostics only. Invalid entries are
//	skipped with a warning; duplicate keys keep the first occurrence.
//	Tools that existed before keep their Enabled flag. Tools whose server
//	already has a probe result take that availability immediately.
//
// Inputs:
//
//	ctx - Bounds the fetch.
//
// Outputs:
//
//	error - Non-nil if the fetch failed. The registry is unchanged then.
//
// Thread Safety: Safe for concurrent use. The fetch runs outside the lock.
func (r *Registry) LoadCatalog(ctx context.Context) error {
	ctx, span := otel.Tracer(registryTracerName).Start(ctx, "registry.Registry.LoadCatalog")
	defer span.End()

	if r.source == nil {
		return ErrNoCatalogSource
	}

	start := time.Now()
	cat, err := r.source.Fetch(ctx)
	if err != nil {
		r.mu.Lock()
		r.lastLoadErr = err
		kept := len(r.tools)
		r.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		catalogLoadsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("Tool catalog load failed, keeping previous catalog",
			slog.String("source", r.source.Name()),
			slog.Int("kept_tools", kept),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("load catalog from %s: %w", r.source.Name(), err)
	}

	accepted := make([]CatalogEntry, 0, len(cat.Tools))
	seen := make(map[string]bool, len(cat.Tools))
	for _, ce := range cat.Tools {
		if verr := r.validate.Struct(ce); verr != nil {
			r.logger.Warn("Skipping invalid catalog entry",
				slog.String("tool_key", ce.Key),
				slog.String("error", verr.Error()),
			)
			continue
		}
		if seen[ce.Key] {
			r.logger.Warn("Skipping duplicate catalog entry", slog.String("tool_key", ce.Key))
			continue
		}
		seen[ce.Key] = true
		accepted = append(accepted, ce)
	}

	r.mu.Lock()
	servers := make(map[string]string, len(r.baseServers)+len(cat.Servers))
	for name, url := range r.baseServers {
		servers[name] = url
	}
	for name, url := range cat.Servers {
		servers[name] = url
	}

	next := make(map[string]*entry, len(accepted))
	for _, ce := range accepted {
		e := &entry{tool: Tool{
			Key:         ce.Key,
			DisplayName: ce.DisplayName,
			Description: ce.Description,
			ServerName:  ce.ServerName,
			Remarks:     ce.Remarks,
		}}
		if e.tool.DisplayName == "" {
			e.tool.DisplayName = ce.Key
		}
		st, probed := r.status[ce.ServerName]
		if probed {
			e.tool.Available = st.Available
		}

		if prev, ok := r.tools[ce.Key]; ok && !prev.pendingDefault {
			e.tool.Enabled = prev.tool.Enabled
		} else {
			switch r.policy {
			case EnableAll:
				e.tool.Enabled = true
			case EnableNone:
				e.tool.Enabled = false
			default:
				if probed {
					e.tool.Enabled = st.Available
				} else {
					e.pendingDefault = true
				}
			}
		}
		next[ce.Key] = e
	}

	r.tools = next
	r.servers = servers
	r.lastLoad = time.Now()
	r.lastLoadErr = nil
	r.mu.Unlock()

	catalogLoadsTotal.WithLabelValues("success").Inc()
	span.SetAttributes(
		attribute.Int("tool_count", len(next)),
		attribute.Int("skipped", len(cat.Tools)-len(accepted)),
	)
	r.logger.Info("Tool catalog loaded",
		slog.String("source", r.source.Name()),
		slog.Int("tools", len(next)),
		slog.Int("servers", len(servers)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// RefreshAvailability probes each distinct server once and updates the
// Available flag of every tool it owns.
//
// Description:
//
//	Probes run concurrently, bounded by the probe concurrency. A probe
//	error or timeout marks the server unavailable; it is never returned.
//	Servers referenced by tools but missing from the server table are
//	marked unavailable without a network call.
//
// Thread Safety: Safe for concurrent use. Probes run outside the lock.
func (r *Registry) RefreshAvailability(ctx context.Context) {
	ctx, span := otel.Tracer(registryTracerName).Start(ctx, "registry.Registry.RefreshAvailability")
	defer span.End()

	r.mu.RLock()
	targets := make(map[string]string)
	for _, e := range r.tools {
		name := e.tool.ServerName
		if _, done := targets[name]; done {
			continue
		}
		targets[name] = r.servers[name]
	}
	r.mu.RUnlock()

	results := make(map[string]ServerStatus, len(targets))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.probeConcurrency)
	for name, url := range targets {
		g.Go(func() error {
			st := r.probeOne(gctx, name, url)
			resultsMu.Lock()
			results[name] = st
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for name, st := range results {
		r.status[name] = st
	}
	counts := make(map[string]int, len(results))
	for _, e := range r.tools {
		st, ok := results[e.tool.ServerName]
		if !ok {
			continue
		}
		e.tool.Available = st.Available
		if e.pendingDefault {
			e.tool.Enabled = st.Available
			e.pendingDefault = false
		}
		counts[e.tool.ServerName]++
	}
	for name, n := range counts {
		st := r.status[name]
		st.ToolCount = n
		r.status[name] = st
	}
	r.mu.Unlock()

	up := 0
	for _, st := range results {
		if st.Available {
			up++
		}
	}
	span.SetAttributes(
		attribute.Int("servers", len(results)),
		attribute.Int("available", up),
	)
	r.logger.Info("Tool server availability refreshed",
		slog.Int("servers", len(results)),
		slog.Int("available", up),
	)
}

// probeOne checks one server and records metrics.
func (r *Registry) probeOne(ctx context.Context, name, url string) ServerStatus {
	st := ServerStatus{Name: name, URL: url, CheckedAt: time.Now()}

	switch {
	case url == "":
		st.Error = fmt.Sprintf("Unknown MCP server: %s", name)
	case r.prober == nil:
		st.Error = "no availability prober configured"
	default:
		_, span := otel.Tracer(registryTracerName).Start(ctx, "registry.probe",
			trace.WithAttributes(attribute.String("server", name)),
		)
		start := time.Now()
		err := r.prober.Probe(ctx, url)
		probeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			st.Error = err.Error()
			span.SetStatus(codes.Error, st.Error)
		} else {
			st.Available = true
		}
		span.End()
	}

	if st.Available {
		serverAvailable.WithLabelValues(name).Set(1)
	} else {
		serverAvailable.WithLabelValues(name).Set(0)
		r.logger.Debug("Tool server unavailable",
			slog.String("server", name),
			slog.String("url", url),
			slog.String("reason", st.Error),
		)
	}
	return st
}

// Discover loads the catalog and then refreshes availability. A load
// failure still refreshes the previous catalog.
func (r *Registry) Discover(ctx context.Context) error {
	err := r.LoadCatalog(ctx)
	r.RefreshAvailability(ctx)
	return err
}

// EnabledTools returns copies of all callable tools keyed by Key.
//
// This is the only view the planner receives.
func (r *Registry) EnabledTools() map[string]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Tool)
	for key, e := range r.tools {
		if e.tool.Callable() {
			out[key] = e.tool
		}
	}
	return out
}

// Toggle flips Enabled for one tool and returns the new state. Unknown keys
// return false and change nothing.
func (r *Registry) Toggle(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tools[key]
	if !ok {
		return false
	}
	e.tool.Enabled = !e.tool.Enabled
	e.pendingDefault = false
	r.logger.Info("Tool toggled", slog.String("tool_key", key), slog.Bool("enabled", e.tool.Enabled))
	return e.tool.Enabled
}

// SetEnabled sets Enabled explicitly. It returns false if the key is unknown.
func (r *Registry) SetEnabled(key string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tools[key]
	if !ok {
		return false
	}
	e.tool.Enabled = enabled
	e.pendingDefault = false
	return true
}

// Get returns a copy of one tool.
func (r *Registry) Get(key string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[key]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// ServerURL returns the base URL for a server name.
func (r *Registry) ServerURL(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.servers[name]
	return url, ok && url != ""
}

// Resolve returns a copy of the tool and the base URL of its server.
//
// Outputs:
//
//	Tool   - Copy of the tool. Zero if the key is unknown.
//	string - Server base URL. Empty if the server is not in the table.
//	bool   - False if the key is unknown.
func (r *Registry) Resolve(key string) (Tool, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[key]
	if !ok {
		return Tool{}, "", false
	}
	return e.tool, r.servers[e.tool.ServerName], true
}

// All returns copies of every tool sorted by key.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Servers returns the last probe result per server sorted by name. Servers
// in the table that were never probed are reported unavailable with a zero
// CheckedAt.
func (r *Registry) Servers() []ServerStatus {
	r.mu.RLock()
	out := make([]ServerStatus, 0, len(r.servers))
	for name, url := range r.servers {
		st, ok := r.status[name]
		if !ok {
			st = ServerStatus{Name: name, URL: url}
		}
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns counts over the current catalog.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.tools), LastLoad: r.lastLoad}
	if r.lastLoadErr != nil {
		s.LastLoadErr = r.lastLoadErr.Error()
	}
	for _, e := range r.tools {
		if e.tool.Enabled {
			s.Enabled++
		}
		if e.tool.Available {
			s.Available++
		}
		if e.tool.Callable() {
			s.Callable++
		}
	}
	return s
}

// Run refreshes availability every interval until ctx is done. Intervals
// below one second are clamped to one second.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAvailability(ctx)
		}
	}
}
