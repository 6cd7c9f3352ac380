// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename-over keep triggering reloads.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	last    ProofConfig
}

// NewWatcher starts watching path. The current contents of path are loaded
// and become the baseline; reloads that produce an identical config are not
// reported.
//
// # Outputs
//
//   - *Watcher: Call Run to deliver changes. Run closes the watcher.
//   - error: Initial load failure or fsnotify setup failure.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	initial, err := Load(abs)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, watcher: fw, logger: logger, last: initial}, nil
}

// Run blocks until ctx is done, calling fn with every successfully loaded
// config that differs from the previous one. Invalid files are logged and
// skipped; the previous config stays in effect.
func (w *Watcher) Run(ctx context.Context, fn func(ProofConfig)) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, fn)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, fn func(ProofConfig)) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	if cfg == w.last {
		return
	}
	w.last = cfg
	w.logger.Info("config reloaded", "path", w.path)
	fn(cfg)
}

// Watch is NewWatcher followed by Run.
func Watch(ctx context.Context, path string, logger *slog.Logger, fn func(ProofConfig)) error {
	w, err := NewWatcher(path, logger)
	if err != nil {
		return err
	}
	return w.Run(ctx, fn)
}
