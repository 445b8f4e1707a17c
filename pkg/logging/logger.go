// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured loggers used by the evolver binary.
//
// A Logger writes to the console and, optionally, to a daily JSON file:
//
//	┌───────────────────────────────────────────────┐
//	│                    Logger                     │
//	│  ┌──────────────────┐   ┌──────────────────┐  │
//	│  │     console      │   │    log file      │  │
//	│  │ tint / text/json │   │  (JSON, daily)   │  │
//	│  └──────────────────┘   └──────────────────┘  │
//	└───────────────────────────────────────────────┘
//
// The console handler is chosen from the destination: a terminal gets the
// colourised tint handler, anything else gets plain slog text, and JSON
// wins over both when requested.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "evolver"})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Runtime Level Changes
//
// Pass a *slog.LevelVar to control the level after construction. Every
// handler shares it, so a config reload that calls LevelVar.Set takes
// effect on console and file output at once.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for unexpected situations the process survives.
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// ErrUnknownLevel is returned by ParseLevel for unrecognised names.
var ErrUnknownLevel = errors.New("unknown log level")

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Slog converts the level to its slog equivalent. Unknown levels map to Info.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel reads a case-insensitive level name. The empty string is Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs Info and above to stderr.
type Config struct {
	// Level sets the minimum level when LevelVar is nil.
	Level Level

	// LevelVar, when set, controls the minimum level of every handler and
	// is initialised from Level. Later calls to LevelVar.Set apply live.
	LevelVar *slog.LevelVar

	// LogDir enables a JSON log file "{Service}_{YYYY-MM-DD}.log" in this
	// directory. "~" expands to the home directory. Created with 0750.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON switches console output to JSON.
	JSON bool

	// Quiet disables console output. File output is unaffected.
	Quiet bool

	// Writer replaces stderr as the console destination.
	Writer io.Writer

	// NoColor disables tint even when the console is a terminal.
	NoColor bool
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps a slog.Logger together with the file it may own.
//
// Thread Safety: Safe for concurrent use. Close is idempotent.
type Logger struct {
	slog   *slog.Logger
	config Config
	level  slog.Leveler

	mu   sync.Mutex
	file *os.File
}

// New creates a Logger from config.
//
// Description:
//
//	Builds the console handler (unless Quiet) and the file handler (when
//	LogDir is set and writable). A file that cannot be opened is skipped
//	and a warning is written to the console. If neither destination is
//	available the logger falls back to stderr text.
//
// Inputs:
//
//	config - Logger configuration.
//
// Outputs:
//
//	*Logger - Ready to use. Must be closed to release the log file.
func New(config Config) *Logger {
	var level slog.Leveler = config.Level.Slog()
	if config.LevelVar != nil {
		config.LevelVar.Set(config.Level.Slog())
		level = config.LevelVar
	}

	logger := &Logger{config: config, level: level}
	var handlers []slog.Handler
	if !config.Quiet {
		handlers = append(handlers, consoleHandler(config, level))
	}

	var fileErr error
	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			fileErr = err
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	logger.slog = slog.New(handler)

	if fileErr != nil {
		logger.slog.Warn("file logging disabled", slog.String("error", fileErr.Error()))
	}
	return logger
}

// Default returns an Info-level console logger for the "evolver" service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "evolver"})
}

// consoleHandler picks tint for terminals, JSON when asked, text otherwise.
func consoleHandler(config Config, level slog.Leveler) slog.Handler {
	w := config.Writer
	if w == nil {
		w = os.Stderr
	}
	if config.JSON {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	if !config.NoColor && isTerminal(w) {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// isTerminal reports whether w is a file descriptor attached to a TTY.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "evolver"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format(time.DateOnly))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Enabled reports whether records at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level.Slog() >= l.level.Level()
}

// With returns a child Logger carrying extra attributes. It shares the
// parent's file; only the parent should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		level:  l.level,
	}
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	var errs []error
	if err := l.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync log file: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	l.file = nil
	return errors.Join(errs...)
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes r to every enabled handler and joins their errors.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
