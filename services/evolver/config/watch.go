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

// Watcher re-reads a configuration file when it changes and applies the
// new log level to a shared slog.LevelVar.
//
// Only the log level takes effect at runtime. Other sections are handed to
// the optional callback, which decides what, if anything, to reload.
//
// Thread Safety: Start runs in one goroutine; Stop may be called from any.
type Watcher struct {
	path     string
	level    *slog.LevelVar
	onChange func(*Config)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for path.
//
// Inputs:
//
//	path - The YAML file passed to Load.
//	level - Level to update on change. May be nil.
//	onChange - Called with every valid reloaded config. May be nil.
//	logger - Defaults to slog.Default().
//
// Outputs:
//
//	*Watcher - Ready to Start.
//	error - Non-nil if the fsnotify watcher cannot be created.
func NewWatcher(path string, level *slog.LevelVar, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		level:    level,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "config")),
		watcher:  w,
	}, nil
}

// Start watches until ctx is done or Stop is called.
//
// The parent directory is watched rather than the file so that editors
// which replace the file by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Debug("watching config", slog.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.reload()
}

// reload applies the file's current contents. An invalid file keeps the
// previous settings.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	if w.level != nil {
		lvl, err := ParseLevel(cfg.Logging.Level)
		if err == nil && lvl != w.level.Level() {
			w.level.Set(lvl)
			w.logger.Info("log level changed", slog.String("level", lvl.String()))
		}
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop closes the underlying watcher, which ends Start.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
