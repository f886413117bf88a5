// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts holds the named prompt templates used by the strategy
// engine.
//
// Every template declares its variables. Rendering fills declared
// variables the caller omitted with empty strings and never fails on a
// missing key.
package prompts

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Template names.
const (
	PlanningSystem       = "planning_system"
	PlanRepair           = "plan_repair"
	SynthesisDirect      = "synthesis_direct"
	SynthesisToolResults = "synthesis_tool_results"
)

// requiredTemplates must be present after every load.
var requiredTemplates = []string{PlanningSystem, PlanRepair, SynthesisDirect, SynthesisToolResults}

// ErrUnknownTemplate is returned by Render for a name the store does not hold.
var ErrUnknownTemplate = errors.New("prompts: unknown template")

// Template is one named prompt.
type Template struct {
	Name        string   `yaml:"-"`
	Description string   `yaml:"description"`
	Variables   []string `yaml:"variables"`
	Text        string   `yaml:"template" validate:"required"`

	tmpl *template.Template
}

type promptFile struct {
	Prompts map[string]*Template `yaml:"prompts" validate:"required,dive"`
}

// Store is a concurrency-safe set of parsed templates.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*Template
	remote    *RemoteSource
	logger    *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRemote makes Render try the remote prompt service first.
func WithRemote(r *RemoteSource) StoreOption {
	return func(s *Store) { s.remote = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore parses the embedded templates.
//
// # Outputs
//
//   - *Store: Ready to render.
//   - error: Non-nil only if the embedded file is broken.
func NewStore(opts ...StoreOption) (*Store, error) {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	tmpls, err := parsePromptFile(defaultPromptsYAML)
	if err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	if err := checkRequired(tmpls); err != nil {
		return nil, err
	}
	s.templates = tmpls
	return s, nil
}

// LoadFile overlays templates from a YAML file with the same shape as the
// embedded one. Templates not named in the file keep their current text.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompts file: %w", err)
	}
	tmpls, err := parsePromptFile(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range tmpls {
		s.templates[name] = t
	}
	s.logger.Info("Prompt overrides loaded", slog.String("path", path), slog.Int("count", len(tmpls)))
	return nil
}

// Names returns the template names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the named template's metadata and text.
func (s *Store) Get(name string) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[name]
	if !ok {
		return Template{}, false
	}
	return Template{Name: t.Name, Description: t.Description, Variables: append([]string(nil), t.Variables...), Text: t.Text}, true
}

// Render executes the named template.
//
// # Description
//
// If a remote source is configured, its text for name is tried first and
// the embedded text is used when the fetch fails or the remote text does
// not parse. Declared variables missing from vars are set to "". Keys the
// template references but does not declare also render empty.
//
// # Inputs
//
//   - ctx: Bounds the remote fetch.
//   - name: Template name.
//   - vars: Variable values.
//
// # Outputs
//
//   - string: Rendered prompt.
//   - error: ErrUnknownTemplate or an execution error.
func (s *Store) Render(ctx context.Context, name string, vars map[string]string) (string, error) {
	s.mu.RLock()
	t, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	data := make(map[string]string, len(t.Variables)+len(vars))
	for _, v := range t.Variables {
		if _, given := vars[v]; !given {
			s.logger.Debug("Prompt variable missing, rendering empty",
				slog.String("template", name),
				slog.String("variable", v),
			)
		}
		data[v] = ""
	}
	for k, v := range vars {
		data[k] = v
	}

	tmpl := t.tmpl
	if s.remote != nil {
		if remote := s.remoteTemplate(ctx, name); remote != nil {
			tmpl = remote
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (s *Store) remoteTemplate(ctx context.Context, name string) *template.Template {
	text, err := s.remote.Fetch(ctx, name)
	if err != nil {
		s.logger.Warn("Remote prompt fetch failed, using embedded prompt",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		return nil
	}
	tmpl, err := compile(name, text)
	if err != nil {
		s.logger.Warn("Remote prompt does not parse, using embedded prompt",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return tmpl
}

func compile(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=zero").Parse(text)
}

func parsePromptFile(data []byte) (map[string]*Template, error) {
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid prompts: %w", err)
	}
	for name, t := range f.Prompts {
		t.Name = name
		tmpl, err := compile(name, t.Text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		t.tmpl = tmpl
	}
	return f.Prompts, nil
}

func checkRequired(tmpls map[string]*Template) error {
	for _, name := range requiredTemplates {
		if _, ok := tmpls[name]; !ok {
			return fmt.Errorf("prompts: required template %q missing", name)
		}
	}
	return nil
}
