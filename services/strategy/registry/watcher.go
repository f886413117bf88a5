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
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces editor write bursts into one reload.
const DefaultWatchDebounce = 500 * time.Millisecond

// WatchCatalogFile reloads the registry whenever path changes on disk.
//
// Description:
//
//	Watches the parent directory, not the file, so atomic rename-on-save
//	is seen. Events for other files are ignored. Each reload is followed
//	by an availability refresh. Blocks until ctx is done.
//
// Inputs:
//
//	ctx      - Cancels the watch.
//	r        - Registry to reload. Its source should read path.
//	path     - Catalog file to watch.
//	debounce - Quiet period before reloading. Zero uses DefaultWatchDebounce.
//
// Outputs:
//
//	error - Non-nil only if the watcher could not be started.
func WatchCatalogFile(ctx context.Context, r *Registry, path string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Catalog watcher error", slog.String("error", werr.Error()))

		case <-fire:
			fire = nil
			r.logger.Info("Catalog file changed, reloading", slog.String("path", abs))
			_ = r.Discover(ctx)
		}
	}
}
