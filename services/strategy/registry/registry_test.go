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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	mu  sync.Mutex
	cat Catalog
	err error
}

func (s *staticSource) Fetch(context.Context) (Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cat, s.err
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) set(cat Catalog, err error) {
	s.mu.Lock()
	s.cat, s.err = cat, err
	s.mu.Unlock()
}

type mapProber struct {
	down  map[string]bool
	calls atomic.Int32
}

func (p *mapProber) Probe(_ context.Context, url string) error {
	p.calls.Add(1)
	if p.down[url] {
		return errors.New("connection refused")
	}
	return nil
}

func twoServerCatalog() Catalog {
	return Catalog{
		Tools: []CatalogEntry{
			{Key: "search", ServerName: "web", Description: "Search the web"},
			{Key: "fetch", ServerName: "web"},
			{Key: "calc", ServerName: "math"},
		},
		Servers: map[string]string{"web": "http://web", "math": "http://math"},
	}
}

func TestRegistry_DefaultPolicyEnablesAvailableAfterFirstProbe(t *testing.T) {
	src := &staticSource{cat: twoServerCatalog()}
	prober := &mapProber{down: map[string]bool{"http://math": true}}
	r := New(WithCatalogSource(src), WithProber(prober))

	require.NoError(t, r.LoadCatalog(context.Background()))
	assert.Empty(t, r.EnabledTools(), "nothing callable before the first probe")

	r.RefreshAvailability(context.Background())

	enabled := r.EnabledTools()
	assert.Len(t, enabled, 2)
	assert.Contains(t, enabled, "search")
	assert.Contains(t, enabled, "fetch")

	calc, ok := r.Get("calc")
	require.True(t, ok)
	assert.False(t, calc.Enabled)
	assert.False(t, calc.Available)
	assert.Equal(t, int32(2), prober.calls.Load(), "one probe per distinct server")
}

func TestRegistry_EnablePolicies(t *testing.T) {
	for _, tc := range []struct {
		policy  EnablePolicy
		enabled bool
	}{
		{EnableAll, true},
		{EnableNone, false},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			r := New(WithCatalogSource(&staticSource{cat: twoServerCatalog()}),
				WithProber(&mapProber{}), WithEnablePolicy(tc.policy))
			require.NoError(t, r.LoadCatalog(context.Background()))
			for _, tool := range r.All() {
				assert.Equal(t, tc.enabled, tool.Enabled, tool.Key)
			}
		})
	}
}

func TestRegistry_LoadFailureKeepsPreviousCatalog(t *testing.T) {
	src := &staticSource{cat: twoServerCatalog()}
	r := New(WithCatalogSource(src), WithProber(&mapProber{}))
	require.NoError(t, r.Discover(context.Background()))

	src.set(Catalog{}, errors.New("management api down"))
	err := r.LoadCatalog(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "management api down")

	assert.Len(t, r.All(), 3)
	assert.Len(t, r.EnabledTools(), 3)
	assert.Contains(t, r.Stats().LastLoadErr, "management api down")
}

func TestRegistry_TogglesSurviveReload(t *testing.T) {
	src := &staticSource{cat: twoServerCatalog()}
	r := New(WithCatalogSource(src), WithProber(&mapProber{}))
	require.NoError(t, r.Discover(context.Background()))

	assert.False(t, r.Toggle("search"))
	require.NoError(t, r.LoadCatalog(context.Background()))

	tool, ok := r.Get("search")
	require.True(t, ok)
	assert.False(t, tool.Enabled)
	assert.True(t, tool.Available, "availability carries over from the last probe")
	assert.NotContains(t, r.EnabledTools(), "search")
}

func TestRegistry_ToggleUnknownKey(t *testing.T) {
	r := New()
	assert.False(t, r.Toggle("missing"))
	assert.False(t, r.SetEnabled("missing", true))
}

func TestRegistry_SkipsInvalidAndDuplicateEntries(t *testing.T) {
	src := &staticSource{cat: Catalog{
		Tools: []CatalogEntry{
			{Key: "a", ServerName: "s"},
			{Key: "", ServerName: "s"},
			{Key: "b"},
			{Key: "a", ServerName: "other"},
		},
		Servers: map[string]string{"s": "http://s"},
	}}
	r := New(WithCatalogSource(src), WithProber(&mapProber{}))
	require.NoError(t, r.LoadCatalog(context.Background()))

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, "s", all[0].ServerName)
	assert.Equal(t, "a", all[0].DisplayName, "display name defaults to key")
}

func TestRegistry_UnknownServerIsUnavailable(t *testing.T) {
	src := &staticSource{cat: Catalog{Tools: []CatalogEntry{{Key: "x", ServerName: "ghost"}}}}
	prober := &mapProber{}
	r := New(WithCatalogSource(src), WithProber(prober))
	require.NoError(t, r.Discover(context.Background()))

	assert.Empty(t, r.EnabledTools())
	assert.Zero(t, prober.calls.Load())
	servers := r.Servers()
	assert.Empty(t, servers, "ghost is not in the server table")
}

func TestRegistry_EnabledToolsReturnsCopies(t *testing.T) {
	r := New(WithCatalogSource(&staticSource{cat: twoServerCatalog()}), WithProber(&mapProber{}))
	require.NoError(t, r.Discover(context.Background()))

	snap := r.EnabledTools()
	r.Toggle("search")

	assert.True(t, snap["search"].Enabled, "snapshot unaffected by later toggle")
	assert.NotContains(t, r.EnabledTools(), "search")
}

func TestRegistry_Stats(t *testing.T) {
	prober := &mapProber{down: map[string]bool{"http://math": true}}
	r := New(WithCatalogSource(&staticSource{cat: twoServerCatalog()}), WithProber(prober))
	require.NoError(t, r.Discover(context.Background()))

	s := r.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Enabled)
	assert.Equal(t, 2, s.Available)
	assert.Equal(t, 2, s.Callable)
	assert.False(t, s.LastLoad.IsZero())

	servers := r.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "math", servers[0].Name)
	assert.False(t, servers[0].Available)
	assert.Equal(t, 1, servers[0].ToolCount)
	assert.Equal(t, "web", servers[1].Name)
	assert.Equal(t, 2, servers[1].ToolCount)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New(WithCatalogSource(&staticSource{cat: twoServerCatalog()}), WithProber(&mapProber{}))
	require.NoError(t, r.Discover(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); r.Toggle("search") }()
		go func() { defer wg.Done(); _ = r.EnabledTools() }()
		go func() { defer wg.Done(); r.RefreshAvailability(context.Background()) }()
	}
	wg.Wait()
	assert.Len(t, r.All(), 3)
}

func TestHTTPCatalogSource_BothShapes(t *testing.T) {
	for name, body := range map[string]string{
		"wrapped": `{"tools":[{"tool_key":"k","mcp_server_name":"s","tool_name":"K"}]}`,
		"bare":    `[{"tool_key":"k","mcp_server_name":"s","tool_name":"K"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/tools" {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			cat, err := NewHTTPCatalogSource(srv.URL + "/").Fetch(context.Background())
			require.NoError(t, err)
			require.Len(t, cat.Tools, 1)
			assert.Equal(t, "k", cat.Tools[0].Key)
			assert.Equal(t, "K", cat.Tools[0].DisplayName)
		})
	}
}

func TestHTTPCatalogSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPCatalogSource(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFileCatalogSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  web: http://localhost:9001
tools:
  - tool_key: search
    tool_name: Web Search
    mcp_server_name: web
`), 0o600))

	cat, err := (&FileCatalogSource{Path: path}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Tools, 1)
	assert.Equal(t, "Web Search", cat.Tools[0].DisplayName)
	assert.Equal(t, "http://localhost:9001", cat.Servers["web"])
}

func TestParseGCSURI(t *testing.T) {
	src, err := ParseGCSURI("gs://bucket/dir/catalog.yaml")
	require.NoError(t, err)
	assert.Equal(t, "bucket", src.Bucket)
	assert.Equal(t, "dir/catalog.yaml", src.Object)
	assert.Equal(t, "gs://bucket/dir/catalog.yaml", src.Name())

	for _, bad := range []string{"s3://b/o", "gs://bucket", "gs:///obj"} {
		_, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tools/descriptions" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewHTTPProber()
	assert.NoError(t, p.Probe(context.Background(), srv.URL))
	assert.Error(t, p.Probe(context.Background(), srv.URL+"/nested"))
	assert.Error(t, p.Probe(context.Background(), "http://127.0.0.1:1"))
}

func TestParseEnablePolicy(t *testing.T) {
	p, ok := ParseEnablePolicy("")
	assert.True(t, ok)
	assert.Equal(t, EnableAvailable, p)

	p, ok = ParseEnablePolicy("all")
	assert.True(t, ok)
	assert.Equal(t, EnableAll, p)

	_, ok = ParseEnablePolicy("some")
	assert.False(t, ok)
}

func TestRegistry_Resolve(t *testing.T) {
	r := New(WithCatalogSource(&staticSource{cat: twoServerCatalog()}), WithProber(&mapProber{}),
		WithServers(map[string]string{"web": "http://configured", "extra": "http://extra"}))
	require.NoError(t, r.Discover(context.Background()))

	tool, url, ok := r.Resolve("search")
	require.True(t, ok)
	assert.Equal(t, "web", tool.ServerName)
	assert.Equal(t, "http://web", url, "catalog server table overrides configured one")

	_, _, ok = r.Resolve("missing")
	assert.False(t, ok)

	extra, ok := r.ServerURL("extra")
	assert.True(t, ok)
	assert.Equal(t, "http://extra", extra)
}

func TestServerDescriptionsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tools":[{"name":"get_customer","description":"d","usage_context":"Look up a customer"},{"name":"list_orders","description":"Orders"}]}`))
	}))
	defer srv.Close()

	src := NewServerDescriptionsSource(map[string]string{"crm": srv.URL, "dead": "http://127.0.0.1:1"})
	cat, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Tools, 2)
	assert.Equal(t, "Look up a customer", cat.Tools[0].Description)
	assert.Equal(t, "Orders", cat.Tools[1].Description)
	assert.Equal(t, "crm", cat.Tools[0].ServerName)
	assert.Equal(t, srv.URL, cat.Servers["crm"])

	_, err = NewServerDescriptionsSource(map[string]string{"dead": "http://127.0.0.1:1"}).Fetch(context.Background())
	assert.Error(t, err)
}

func TestWatchCatalogFile_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	write := func(keys ...string) {
		body := "servers:\n  web: http://web\ntools:\n"
		for _, k := range keys {
			body += "  - tool_key: " + k + "\n    mcp_server_name: web\n"
		}
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("search")

	r := New(WithCatalogSource(&FileCatalogSource{Path: path}), WithProber(&mapProber{}))
	require.NoError(t, r.Discover(context.Background()))
	_, ok := r.Get("fetch")
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchCatalogFile(ctx, r, path, 20*time.Millisecond) }()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	write("search", "fetch")

	assert.Eventually(t, func() bool {
		tool, ok := r.Get("fetch")
		return ok && tool.Available
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
