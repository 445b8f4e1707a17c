// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists stream checkpoints so an engine can be rebuilt
// after a restart.
//
// Every checkpoint the engine commits to its global log is written here
// first, keyed by its log leaf index. Replaying the journal in key order
// reproduces the log, the per-coordinate histories and the accumulators as
// of the last checkpoint. Operators still sitting in a stream's buffer are
// not journaled.
//
// Records are stored as [CRC32 big-endian][gob payload].
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/storage/badger"
	"github.com/AleutianAI/Evolver/services/evolver/telemetry"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

const tracerName = "evolver.journal"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("journal is closed")

	// ErrCorrupted is returned when a record fails its CRC check.
	ErrCorrupted = errors.New("journal record corrupted (CRC mismatch)")

	// ErrSequenceGap is returned when replay finds a missing leaf index.
	ErrSequenceGap = errors.New("journal sequence gap")

	// ErrOutOfOrder is returned when Append is given a sequence number other
	// than the next expected one.
	ErrOutOfOrder = errors.New("journal append out of order")

	// ErrInvalidEntry is returned when Append is given an entry with a
	// missing state or an incomplete operator.
	ErrInvalidEntry = errors.New("invalid journal entry")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid journal config")
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// Entry is one committed checkpoint.
type Entry struct {
	// Seq is the checkpoint's leaf index in the global log.
	Seq uint64

	// Coord is the stream's coordinate.
	Coord []int

	// Index is the checkpoint's position in its stream's history.
	Index int

	// Ops are the operators folded since the previous checkpoint, in order.
	Ops []affine.Tuple

	// State is the accumulator after Ops.
	State classgroup.Element

	// CommittedAt is the wall-clock commit time in Unix nanoseconds.
	CommittedAt int64
}

// validate rejects entries gob would encode lossily: zero-valued
// elements are skipped by the encoder and would come back empty.
func (e Entry) validate() error {
	if e.State.IsZero() {
		return fmt.Errorf("%w: seq %d has no state", ErrInvalidEntry, e.Seq)
	}
	for i, op := range e.Ops {
		if op.P == nil || op.P.Sign() <= 0 || op.Q.IsZero() {
			return fmt.Errorf("%w: seq %d op %d is incomplete", ErrInvalidEntry, e.Seq, i)
		}
	}
	return nil
}

// Config configures a BadgerJournal.
type Config struct {
	// Path is the BadgerDB directory. Required unless InMemory.
	Path string

	// Namespace isolates one engine's records from another's in a shared store.
	Namespace string

	// SyncWrites fsyncs each append. Keep it on outside tests.
	SyncWrites bool

	// InMemory uses an in-memory store.
	InMemory bool

	// SkipCorrupted logs and skips records that fail their CRC during
	// replay instead of failing. Default false.
	SkipCorrupted bool

	// GCInterval for the underlying value log. Zero disables GC.
	GCInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns durable defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:  "default",
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
		Logger:     slog.Default(),
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	}
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("%w: path is required for a persistent journal", ErrInvalidConfig)
	}
	return nil
}

// Stats summarises journal activity since open.
type Stats struct {
	Entries   uint64 `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Corrupted int64  `json:"corrupted"`
}

// -----------------------------------------------------------------------------
// BadgerJournal
// -----------------------------------------------------------------------------

// BadgerJournal is the BadgerDB-backed checkpoint journal.
//
// Thread Safety: Safe for concurrent use. Appends must still arrive in
// sequence order; the engine serialises them under its log lock.
type BadgerJournal struct {
	db     *badger.DB
	config Config
	logger *slog.Logger

	next      atomic.Uint64
	bytes     atomic.Int64
	corrupted atomic.Int64
	closed    atomic.Bool
}

// Open opens (or creates) a journal.
//
// Description:
//
//	Opens the store and positions the append cursor after the highest
//	record already present, so a reopened journal continues its sequence.
//
// Inputs:
//
//	cfg - Journal configuration.
//
// Outputs:
//
//	*BadgerJournal - The open journal. Close it when done.
//	error - ErrInvalidConfig or a store error.
func Open(cfg Config) (*BadgerJournal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	storeCfg := badger.DefaultConfig()
	storeCfg.Path = cfg.Path
	storeCfg.InMemory = cfg.InMemory
	storeCfg.SyncWrites = cfg.SyncWrites
	storeCfg.GCInterval = cfg.GCInterval
	storeCfg.Logger = cfg.Logger
	if cfg.InMemory {
		storeCfg.GCInterval = 0
	}

	db, err := badger.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open journal store: %w", err)
	}

	j := &BadgerJournal{
		db:     db,
		config: cfg,
		logger: cfg.Logger.With(slog.String("component", "journal"), slog.String("namespace", cfg.Namespace)),
	}
	if err := j.initCursor(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal cursor: %w", err)
	}

	j.logger.Info("journal opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Bool("sync_writes", cfg.SyncWrites),
		slog.Uint64("next_seq", j.next.Load()))
	return j, nil
}

func (j *BadgerJournal) prefix() []byte {
	return []byte(fmt.Sprintf("checkpoint:%s:", j.config.Namespace))
}

func (j *BadgerJournal) key(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", j.prefix(), seq))
}

func (j *BadgerJournal) parseKey(key []byte) (uint64, bool) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(j.prefix()):]), "%016d", &seq); err != nil {
		return 0, false
	}
	return seq, true
}

func (j *BadgerJournal) initCursor() error {
	prefix := j.prefix()
	return j.db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if it.ValidForPrefix(prefix) {
			if seq, ok := j.parseKey(it.Item().Key()); ok {
				j.next.Store(seq + 1)
			}
		}
		return nil
	})
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(buf.Bytes()))
	copy(out[4:], buf.Bytes())
	return out, nil
}

func decodeEntry(data []byte) (Entry, error) {
	if len(data) < 5 {
		return Entry{}, fmt.Errorf("%w: record too short", ErrCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	if computed := crc32.ChecksumIEEE(data[4:]); stored != computed {
		return Entry{}, fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorrupted, stored, computed)
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data[4:])).Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("gob decode: %w", err)
	}
	return e, nil
}

// Append durably writes one checkpoint.
//
// Description:
//
//	The entry's Seq must equal the number of entries already written.
//	The write is a single BadgerDB transaction; nothing is recorded on error.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	e - The checkpoint.
//
// Outputs:
//
//	error - ErrClosed, ErrOutOfOrder, or an encode or store error.
//
// Thread Safety: Safe for concurrent use; callers serialise sequence order.
func (j *BadgerJournal) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.closed.Load() {
		return ErrClosed
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "journal.Append",
		attribute.String("namespace", j.config.Namespace),
		telemetry.AttrCoordinate.String(topology.Coordinate(e.Coord).Key()),
		telemetry.AttrCheckpoint.Int(e.Index),
		attribute.Int64("seq", int64(e.Seq)),
		attribute.Int("ops", len(e.Ops)),
	)
	defer span.End()

	if want := j.next.Load(); e.Seq != want {
		err := fmt.Errorf("%w: got seq %d, want %d", ErrOutOfOrder, e.Seq, want)
		telemetry.RecordError(span, err, "out of order")
		return err
	}

	if err := e.validate(); err != nil {
		telemetry.RecordError(span, err, "invalid entry")
		return err
	}

	data, err := encodeEntry(e)
	if err != nil {
		telemetry.RecordError(span, err, "encode failed")
		return fmt.Errorf("encode entry: %w", err)
	}

	key := j.key(e.Seq)
	if err := j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		telemetry.RecordError(span, err, "write failed")
		return fmt.Errorf("write entry: %w", err)
	}

	j.next.Store(e.Seq + 1)
	j.bytes.Add(int64(len(data)))
	span.SetAttributes(attribute.Int("entry_bytes", len(data)))
	telemetry.SetSpanOK(span)

	j.logger.Debug("checkpoint journaled",
		slog.Uint64("seq", e.Seq),
		slog.Int("index", e.Index),
		slog.Int("bytes", len(data)))
	return nil
}

// Replay returns every entry in sequence order.
//
// Description:
//
//	Reads all records under the namespace, checking CRCs and that the
//	sequence starts at zero without gaps. With SkipCorrupted set, corrupt
//	records are logged and dropped instead of failing the replay; a dropped
//	record still counts toward gap detection.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//
// Outputs:
//
//	[]Entry - Entries in Seq order. Empty for a new journal.
//	error - ErrClosed, ErrCorrupted, ErrSequenceGap or a store error.
func (j *BadgerJournal) Replay(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if j.closed.Load() {
		return nil, ErrClosed
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "journal.Replay",
		attribute.String("namespace", j.config.Namespace))
	defer span.End()

	var (
		entries []Entry
		expect  uint64
		skipped int
	)
	prefix := j.prefix()
	err := j.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq, ok := j.parseKey(item.Key())
			if !ok {
				continue
			}
			if seq != expect {
				return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, expect, seq)
			}
			expect++

			err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					if errors.Is(err, ErrCorrupted) {
						j.corrupted.Add(1)
						if j.config.SkipCorrupted {
							skipped++
							j.logger.Warn("skipping corrupted checkpoint",
								slog.Uint64("seq", seq),
								slog.String("error", err.Error()))
							return nil
						}
					}
					return fmt.Errorf("seq %d: %w", seq, err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err, "replay failed")
		return nil, fmt.Errorf("replay: %w", err)
	}

	span.SetAttributes(
		attribute.Int("entry_count", len(entries)),
		attribute.Int("skipped", skipped),
	)
	telemetry.SetSpanOK(span)
	j.logger.Info("journal replayed",
		slog.Int("entries", len(entries)),
		slog.Int("skipped", skipped))
	return entries, nil
}

// Next returns the sequence number the next Append must carry.
func (j *BadgerJournal) Next() uint64 {
	return j.next.Load()
}

// Sync flushes pending writes.
func (j *BadgerJournal) Sync() error {
	if j.closed.Load() {
		return ErrClosed
	}
	return j.db.Sync()
}

// Stats returns counters since open.
func (j *BadgerJournal) Stats() Stats {
	return Stats{
		Entries:   j.next.Load(),
		Bytes:     j.bytes.Load(),
		Corrupted: j.corrupted.Load(),
	}
}

// Close closes the store. Safe to call more than once.
func (j *BadgerJournal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	j.logger.Info("journal closed", slog.Uint64("next_seq", j.next.Load()))
	return j.db.Close()
}
