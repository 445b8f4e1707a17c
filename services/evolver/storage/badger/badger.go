// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the embedded BadgerDB store that backs
// the checkpoint journal.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrPathRequired is returned when a persistent store has no directory.
	ErrPathRequired = errors.New("path is required for a persistent store")

	// ErrInvalidGCConfig is returned for a non-positive interval or a
	// discard ratio outside [0, 1].
	ErrInvalidGCConfig = errors.New("invalid value log GC configuration")
)

// Config configures a store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. Used by tests and dry runs.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit. The journal needs this for crash safety.
	SyncWrites bool `yaml:"sync_writes"`

	// NumVersionsToKeep per key. Journal keys are written once.
	NumVersionsToKeep int `yaml:"-"`

	// GCInterval between value log GC passes. Zero disables GC.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives BadgerDB's own logs. Nil silences them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns durable settings for a persistent store.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns settings for a throwaway in-memory store.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		NumVersionsToKeep: 1,
	}
}

// slogBridge routes BadgerDB's printf-style logger into slog.
type slogBridge struct {
	logger *slog.Logger
}

func (b slogBridge) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b slogBridge) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b slogBridge) Infof(format string, args ...interface{}) {
	b.logger.Info(fmt.Sprintf(format, args...))
}

func (b slogBridge) Debugf(format string, args ...interface{}) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is an open store with an optional background GC runner.
type DB struct {
	*badger.DB
	gc       *GCRunner
	path     string
	inMemory bool
	close    sync.Once
	closeErr error
}

// Open opens a store.
//
// Description:
//
//	Creates the data directory when needed, applies the durability and
//	version settings, bridges logs to slog, and starts value log GC when
//	GCInterval is positive and the store is on disk.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is set.
//
// Outputs:
//
//	*DB - The open store. Close it when done.
//	error - ErrPathRequired, ErrInvalidGCConfig or a BadgerDB open error.
//
// Thread Safety: The returned DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrPathRequired
	}
	if cfg.NumVersionsToKeep <= 0 {
		cfg.NumVersionsToKeep = 1
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogBridge{logger: cfg.Logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	db := &DB{DB: raw, path: cfg.Path, inMemory: cfg.InMemory}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		gc, err := NewGCRunner(raw, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			raw.Close()
			return nil, err
		}
		db.gc = gc
		gc.Start()
	}
	return db, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the store. Later calls return the first result.
func (d *DB) Close() error {
	d.close.Do(func() {
		if d.gc != nil {
			d.gc.Stop()
		}
		d.closeErr = d.DB.Close()
	})
	return d.closeErr
}

// Path returns the data directory, empty for in-memory stores.
func (d *DB) Path() string { return d.path }

// InMemory reports whether the store lives in RAM.
func (d *DB) InMemory() bool { return d.inMemory }

// Sync flushes pending writes to disk. A no-op in memory.
func (d *DB) Sync() error {
	if d.inMemory {
		return nil
	}
	return d.DB.Sync()
}

// WithTxn runs fn in a read-write transaction and commits if fn succeeds.
// The transaction is discarded on error.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// -----------------------------------------------------------------------------
// Value log GC
// -----------------------------------------------------------------------------

// GCRunner triggers value log GC on a fixed interval.
//
// Thread Safety: Start and Stop may each be called more than once.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	start  sync.Once
	stop   sync.Once
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewGCRunner validates the schedule and returns an idle runner.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil db", ErrInvalidGCConfig)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval %s", ErrInvalidGCConfig, interval)
	}
	if ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("%w: discard ratio %.2f", ErrInvalidGCConfig, ratio)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger.With(slog.String("component", "badger_gc")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC loop.
func (r *GCRunner) Start() {
	r.start.Do(func() { go r.run() })
}

// Stop ends the GC loop and waits for it. Stop without Start is a no-op.
func (r *GCRunner) Stop() {
	r.stop.Do(func() {
		close(r.stopCh)
		started := true
		r.start.Do(func() { started = false })
		if started {
			<-r.doneCh
		}
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

func (r *GCRunner) collect() {
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		r.logger.Debug("value log GC rewrote a file")
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
	default:
		r.logger.Warn("value log GC failed", slog.String("error", err.Error()))
	}
}
