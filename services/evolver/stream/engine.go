// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream implements the streaming evolution core.
//
// An Engine holds one Stream per spatial coordinate. Each stream folds an
// unbounded sequence of affine operators into a constant-size accumulator
// and, every ChunkSize operators, commits a checkpoint (1, S) to its
// time history and a leaf digest of S to the engine's global Merkle log.
// Proofs replay the operators between two checkpoints against that log.
//
// Lock order: Engine.mu, then Stream.mu, then Engine.logMu. No path takes
// them in the reverse order.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/hashing"
	"github.com/AleutianAI/Evolver/services/evolver/journal"
	"github.com/AleutianAI/Evolver/services/evolver/merkle"
	"github.com/AleutianAI/Evolver/services/evolver/proof"
	"github.com/AleutianAI/Evolver/services/evolver/telemetry"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

const (
	// DefaultChunkSize is the number of operators between checkpoints.
	DefaultChunkSize = 64

	// MaxChunkSize bounds the buffer and the recursion depth of replay.
	MaxChunkSize = 1 << 16

	tracerName = "evolver.stream"
)

// ==============================================================================
// Errors
// ==============================================================================

var (
	// ErrStreamPoisoned is returned by every call on a stream whose write
	// panicked. Its accumulator may be inconsistent and is never used again.
	ErrStreamPoisoned = errors.New("stream poisoned by a panic during a write")

	// ErrEngineHalted is returned by writes after a holographic symmetry
	// violation. The engine must be rebuilt.
	ErrEngineHalted = errors.New("engine halted")

	// ErrInvalidConfig is returned by NewEngine.
	ErrInvalidConfig = errors.New("invalid engine config")

	// ErrNoJournal is returned by Recover on an engine without a journal.
	ErrNoJournal = errors.New("engine has no journal")

	// ErrAlreadyStarted is returned by Recover once the engine holds state.
	ErrAlreadyStarted = errors.New("recovery requires an empty engine")

	// ErrJournalInconsistent is returned when a journal entry does not
	// follow from the entries before it.
	ErrJournalInconsistent = errors.New("journal inconsistent")
)

// ==============================================================================
// Types
// ==============================================================================

// Journal is the durable sink for checkpoints.
//
// journal.BadgerJournal is the production implementation.
type Journal interface {
	// Append persists one checkpoint. Entries arrive in Seq order.
	Append(ctx context.Context, e journal.Entry) error

	// Replay returns every persisted checkpoint in Seq order.
	Replay(ctx context.Context) ([]journal.Entry, error)
}

// Config configures an Engine.
type Config struct {
	// Layout of the spatial coordinates. Required.
	Layout topology.Layout

	// ChunkSize is the number of operators per checkpoint.
	// Default: DefaultChunkSize.
	ChunkSize int

	// Journal receives every checkpoint before it enters the log.
	// Optional; without it the engine is memory-only.
	Journal Journal

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Range selects checkpoints for a transition proof.
//
// The proof starts at checkpoint From and replays the operators of
// checkpoints From+1..To. With Live set, To is ignored and the replay runs
// through the latest checkpoint and the unflushed buffer to the live
// accumulator.
type Range struct {
	From int  `json:"from"`
	To   int  `json:"to"`
	Live bool `json:"live"`
}

// RecoveryStats reports what Recover rebuilt.
type RecoveryStats struct {
	Checkpoints int `json:"checkpoints"`
	Streams     int `json:"streams"`
}

// Engine owns every stream, the global commitment log and the journal.
//
// Thread Safety: Safe for concurrent use. Operators for different
// coordinates proceed in parallel; checkpoint commits are serialised.
type Engine struct {
	id        string
	al        *affine.Algebra
	layout    topology.Layout
	chunkSize int
	journal   Journal
	logger    *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream

	logMu sync.Mutex
	log   *merkle.Log

	halted atomic.Bool
}

// NewEngine creates an empty engine.
//
// Inputs:
//
//	al - The algebra over the system discriminant. Must not be nil.
//	cfg - Engine configuration.
//
// Outputs:
//
//	*Engine - The engine.
//	error - ErrInvalidConfig wrapping the problem.
func NewEngine(al *affine.Algebra, cfg Config) (*Engine, error) {
	if al == nil {
		return nil, fmt.Errorf("%w: algebra must not be nil", ErrInvalidConfig)
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize < 1 || cfg.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d outside [1, %d]", ErrInvalidConfig, cfg.ChunkSize, MaxChunkSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.NewString()
	return &Engine{
		id:        id,
		al:        al,
		layout:    cfg.Layout,
		chunkSize: cfg.ChunkSize,
		journal:   cfg.Journal,
		logger:    cfg.Logger.With(slog.String("component", "engine"), slog.String("engine_id", id)),
		streams:   make(map[string]*Stream),
		log:       merkle.NewLog(),
	}, nil
}

// ID returns the engine's instance identifier.
func (e *Engine) ID() string { return e.id }

// Algebra returns the engine's algebra.
func (e *Engine) Algebra() *affine.Algebra { return e.al }

// Layout returns the spatial layout.
func (e *Engine) Layout() topology.Layout { return e.layout }

// ChunkSize returns the number of operators per checkpoint.
func (e *Engine) ChunkSize() int { return e.chunkSize }

// Halted reports whether a symmetry violation stopped the engine.
func (e *Engine) Halted() bool { return e.halted.Load() }

func (e *Engine) halt(reason error) {
	if e.halted.CompareAndSwap(false, true) {
		e.logger.Error("engine halted", slog.String("reason", reason.Error()))
	}
}

// ==============================================================================
// Streams
// ==============================================================================

// Stream returns the stream for coord, creating it on first use.
func (e *Engine) Stream(coord topology.Coordinate) (*Stream, error) {
	if err := e.layout.Contains(coord); err != nil {
		return nil, err
	}
	key := coord.Key()

	e.mu.RLock()
	s, ok := e.streams[key]
	e.mu.RUnlock()
	if ok {
		return s, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.streams[key]; ok {
		return s, nil
	}
	s = newStream(e, append(topology.Coordinate(nil), coord...))
	e.streams[key] = s
	activeStreams.Inc()
	return s, nil
}

func (e *Engine) lookup(coord topology.Coordinate) (*Stream, bool, error) {
	if err := e.layout.Contains(coord); err != nil {
		return nil, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.streams[coord.Key()]
	return s, ok, nil
}

// streamList returns the streams ordered by coordinate key.
func (e *Engine) streamList() []*Stream {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Stream, 0, len(e.streams))
	for _, s := range e.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].coord.Key() < out[j].coord.Key() })
	return out
}

// Coordinates lists the coordinates that have a stream.
func (e *Engine) Coordinates() []topology.Coordinate {
	streams := e.streamList()
	out := make([]topology.Coordinate, len(streams))
	for i, s := range streams {
		out[i] = s.coord
	}
	return out
}

// Apply folds op into the stream at coord.
func (e *Engine) Apply(ctx context.Context, coord topology.Coordinate, op affine.Tuple) error {
	if e.halted.Load() {
		return ErrEngineHalted
	}
	s, err := e.Stream(coord)
	if err != nil {
		return err
	}
	return s.Apply(ctx, op)
}

// Commitment returns the accumulator at coord. A coordinate that has
// never received an operator is at the identity.
func (e *Engine) Commitment(coord topology.Coordinate) (classgroup.Element, error) {
	s, ok, err := e.lookup(coord)
	if err != nil {
		return classgroup.Element{}, err
	}
	if !ok {
		return e.al.Group().Identity(), nil
	}
	return s.Commitment()
}

// Status returns the summary of the stream at coord.
func (e *Engine) Status(coord topology.Coordinate) (Status, error) {
	s, ok, err := e.lookup(coord)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{Coordinate: coord, Commitment: e.al.Group().Identity()}, nil
	}
	return s.Status()
}

// Flush checkpoints every partially filled buffer. Errors from
// individual streams are joined; the remaining streams are still flushed.
func (e *Engine) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range e.streamList() {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// commit journals and logs one checkpoint and returns its leaf index.
func (e *Engine) commit(ctx context.Context, coord topology.Coordinate, index int, state classgroup.Element, ops []affine.Tuple) (uint64, error) {
	leaf := proof.LeafDigest(state)

	e.logMu.Lock()
	defer e.logMu.Unlock()

	seq := e.log.Size()
	if e.journal != nil {
		entry := journal.Entry{
			Seq:         seq,
			Coord:       append([]int(nil), coord...),
			Index:       index,
			Ops:         ops,
			State:       state,
			CommittedAt: time.Now().UnixNano(),
		}
		if err := e.journal.Append(ctx, entry); err != nil {
			return 0, fmt.Errorf("journal leaf %d: %w", seq, err)
		}
	}
	idx := e.log.Append(leaf)
	logSize.Set(float64(idx + 1))
	telemetry.Checkpoint(ctx, coord.Key(), index, idx+1)
	return idx, nil
}

// ==============================================================================
// Log and proofs
// ==============================================================================

// LogRoot returns the current log root and size as one consistent pair.
func (e *Engine) LogRoot() (hashing.Digest, uint64) {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	return e.log.Root(), e.log.Size()
}

// LogRootAt returns the root the log had when it held size leaves.
func (e *Engine) LogRootAt(size uint64) (hashing.Digest, error) {
	return e.log.RootAt(size)
}

// RequestTransitionProof builds a proof for a checkpoint range of coord.
//
// Description:
//
//	The proof carries checkpoint From's state, its inclusion proof against
//	the log at its current size, the operators recorded after it up to
//	checkpoint To (or the live accumulator), and the state they reach.
//	Verify it against LogRootAt(proof.Inclusion.TreeSize).
//
// Inputs:
//
//	ctx - Context for tracing.
//	coord - The stream's coordinate.
//	r - The checkpoint range.
//
// Outputs:
//
//	*proof.StateTransitionProof - The proof.
//	error - topology.ErrWitnessOutOfRange for a range outside the recorded
//	        history, a layout error, or ErrStreamPoisoned.
//
// Thread Safety: Shares the stream's read lock.
func (e *Engine) RequestTransitionProof(ctx context.Context, coord topology.Coordinate, r Range) (*proof.StateTransitionProof, error) {
	_, span := telemetry.StartSpan(ctx, tracerName, "engine.RequestTransitionProof",
		telemetry.AttrCoordinate.String(coord.Key()),
		telemetry.AttrRangeFrom.Int(r.From),
		telemetry.AttrRangeTo.Int(r.To),
		attribute.Bool("live", r.Live),
	)
	defer span.End()

	s, ok, err := e.lookup(coord)
	if err != nil {
		telemetry.RecordError(span, err, "")
		return nil, err
	}
	if !ok {
		err := fmt.Errorf("%w: %s has no recorded history", topology.ErrWitnessOutOfRange, coord)
		telemetry.RecordError(span, err, "unknown coordinate")
		return nil, err
	}

	p, err := s.transitionProof(r)
	if err != nil {
		telemetry.RecordError(span, err, "")
		return nil, err
	}
	proofsServed.Inc()
	span.SetAttributes(
		attribute.Int("replay_ops", len(p.ReplayOps)),
		telemetry.AttrTreeSize.Int64(int64(p.Inclusion.TreeSize)),
	)
	telemetry.SetSpanOK(span)
	return p, nil
}

// VerifyTransitionProof checks p against the log root at p's tree size.
func (e *Engine) VerifyTransitionProof(p *proof.StateTransitionProof) error {
	root, err := e.LogRootAt(p.Inclusion.TreeSize)
	if err != nil {
		return &proof.VerificationError{Step: proof.StepInclusion, OpIndex: -1,
			Err: fmt.Errorf("%w: %w", proof.ErrInclusionFailed, err)}
	}
	return proof.Verify(p, root, e.al)
}

// ==============================================================================
// Spatial folding
// ==============================================================================

// Snapshot returns every stream's collapsed history, ordered by coordinate.
func (e *Engine) Snapshot() ([]topology.Cell, error) {
	streams := e.streamList()
	cells := make([]topology.Cell, 0, len(streams))
	for _, s := range streams {
		root, err := s.Root()
		if err != nil {
			return nil, err
		}
		cells = append(cells, topology.Cell{Coord: s.coord, Root: root})
	}
	return cells, nil
}

// GlobalRoot folds the snapshot under order (the natural order when nil).
func (e *Engine) GlobalRoot(ctx context.Context, order []int) (affine.Tuple, error) {
	if err := ctx.Err(); err != nil {
		return affine.Tuple{}, err
	}
	if order == nil {
		order = topology.NaturalOrder(e.layout.Dimensions)
	}
	cells, err := e.Snapshot()
	if err != nil {
		return affine.Tuple{}, err
	}
	return topology.Fold(e.al, cells, order)
}

// VerifySymmetry folds the snapshot under the natural order and each of
// orders, and halts the engine if any two disagree.
func (e *Engine) VerifySymmetry(ctx context.Context, orders ...[]int) (affine.Tuple, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "engine.VerifySymmetry")
	defer span.End()

	cells, err := e.Snapshot()
	if err != nil {
		telemetry.RecordError(span, err, "snapshot")
		return affine.Tuple{}, err
	}
	span.SetAttributes(attribute.Int("cells", len(cells)))

	root, err := topology.VerifySymmetry(ctx, e.al, e.layout.Dimensions, cells, orders...)
	if errors.Is(err, topology.ErrHolographicViolation) {
		e.halt(err)
		telemetry.RecordError(span, err, "holographic violation")
		return affine.Tuple{}, fmt.Errorf("%w: %w", ErrEngineHalted, err)
	}
	if err != nil {
		telemetry.RecordError(span, err, "")
		return affine.Tuple{}, err
	}
	telemetry.SetSpanOK(span)
	return root, nil
}

// ==============================================================================
// Recovery
// ==============================================================================

type rebuilt struct {
	stream *Stream
	state  classgroup.Element
}

// Recover rebuilds the log, histories and accumulators from the journal.
//
// Description:
//
//	Entries are replayed in leaf order. Each entry's operators are checked
//	to lead from the stream's previous checkpoint to the recorded state,
//	so a journal that does not describe a real history is refused. The
//	rebuilt state is installed only if the whole journal checks out.
//	Operators that were buffered but never checkpointed are not recovered.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//
// Outputs:
//
//	RecoveryStats - Counts of checkpoints and streams rebuilt.
//	error - ErrNoJournal, ErrAlreadyStarted, ErrJournalInconsistent or a
//	        journal error.
//
// Thread Safety: Must run before the engine receives operators.
func (e *Engine) Recover(ctx context.Context) (RecoveryStats, error) {
	if e.journal == nil {
		return RecoveryStats{}, ErrNoJournal
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "engine.Recover")
	defer span.End()

	entries, err := e.journal.Replay(ctx)
	if err != nil {
		telemetry.RecordError(span, err, "replay")
		return RecoveryStats{}, fmt.Errorf("replay journal: %w", err)
	}

	streams := make(map[string]*rebuilt)
	leaves := make([]hashing.Digest, 0, len(entries))
	for i, en := range entries {
		if err := ctx.Err(); err != nil {
			return RecoveryStats{}, err
		}
		r, err := e.recoverEntry(streams, uint64(i), en)
		if err != nil {
			telemetry.RecordError(span, err, "inconsistent journal")
			return RecoveryStats{}, err
		}
		leaves = append(leaves, proof.LeafDigest(r.state))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.logMu.Lock()
	defer e.logMu.Unlock()
	if e.log.Size() != 0 || len(e.streams) != 0 {
		return RecoveryStats{}, ErrAlreadyStarted
	}
	for _, leaf := range leaves {
		e.log.Append(leaf)
	}
	for key, r := range streams {
		r.stream.state = r.state
		e.streams[key] = r.stream
	}
	activeStreams.Add(float64(len(streams)))
	logSize.Set(float64(e.log.Size()))
	checkpointsCommitted.WithLabelValues(triggerRecovery).Add(float64(len(entries)))

	stats := RecoveryStats{Checkpoints: len(entries), Streams: len(streams)}
	span.SetAttributes(
		attribute.Int("checkpoints", stats.Checkpoints),
		attribute.Int("streams", stats.Streams),
	)
	telemetry.SetSpanOK(span)
	e.logger.Info("engine recovered",
		slog.Int("checkpoints", stats.Checkpoints),
		slog.Int("streams", stats.Streams))
	return stats, nil
}

func (e *Engine) recoverEntry(streams map[string]*rebuilt, seq uint64, en journal.Entry) (*rebuilt, error) {
	if en.Seq != seq {
		return nil, fmt.Errorf("%w: entry %d carries seq %d", ErrJournalInconsistent, seq, en.Seq)
	}
	coord := topology.Coordinate(en.Coord)
	if err := e.layout.Contains(coord); err != nil {
		return nil, fmt.Errorf("%w: seq %d: %w", ErrJournalInconsistent, seq, err)
	}

	r, ok := streams[coord.Key()]
	if !ok {
		r = &rebuilt{stream: newStream(e, coord)}
		r.state = r.stream.state
		streams[coord.Key()] = r
	}
	s := r.stream
	if en.Index != len(s.checkpoints) {
		return nil, fmt.Errorf("%w: seq %d is checkpoint %d of %s, expected %d",
			ErrJournalInconsistent, seq, en.Index, coord, len(s.checkpoints))
	}

	state := r.state
	for i, op := range en.Ops {
		if err := e.al.Validate(op); err != nil {
			return nil, fmt.Errorf("%w: seq %d op %d: %w", ErrJournalInconsistent, seq, i, err)
		}
		next, err := e.al.Apply(state, op)
		if err != nil {
			return nil, fmt.Errorf("%w: seq %d op %d: %w", ErrJournalInconsistent, seq, i, err)
		}
		state = next
	}
	if !state.Equal(en.State) {
		return nil, fmt.Errorf("%w: seq %d replays to %s, journal records %s",
			ErrJournalInconsistent, seq, state, en.State)
	}

	s.history.Append(e.al.Checkpoint(state))
	s.checkpoints = append(s.checkpoints, checkpoint{state: state, ops: en.Ops, leaf: seq})
	s.applied += uint64(len(en.Ops))
	r.state = state
	return r, nil
}
