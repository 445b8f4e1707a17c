// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/proof"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

const (
	triggerChunk    = "chunk"
	triggerFlush    = "flush"
	triggerRecovery = "recovery"
)

// checkpoint is one committed accumulator snapshot and the operators
// folded since the previous one.
type checkpoint struct {
	state classgroup.Element
	ops   []affine.Tuple
	leaf  uint64
}

// Status is a read-only summary of a stream.
type Status struct {
	Coordinate  topology.Coordinate `json:"coordinate"`
	Commitment  classgroup.Element  `json:"commitment"`
	Applied     uint64              `json:"applied"`
	Buffered    int                 `json:"buffered"`
	Checkpoints int                 `json:"checkpoints"`
}

// Stream is the evolution context of one coordinate.
//
// It owns the accumulator S, the buffer of operators applied since the
// last checkpoint, and the checkpoint history. S starts at the identity
// and never grows beyond the size of one class group element.
//
// Thread Safety: Writers (Apply, Flush) take the lock exclusively; readers
// share it and wait out an in-flight write. A panic during a write poisons
// the stream and every later call returns ErrStreamPoisoned.
type Stream struct {
	coord  topology.Coordinate
	engine *Engine

	mu          sync.RWMutex
	state       classgroup.Element
	buffer      []affine.Tuple
	history     *topology.TimeSegmentTree
	checkpoints []checkpoint
	applied     uint64

	poisoned atomic.Bool
}

func newStream(e *Engine, coord topology.Coordinate) *Stream {
	return &Stream{
		coord:   coord,
		engine:  e,
		state:   e.al.Group().Identity(),
		history: topology.NewTimeSegmentTree(),
	}
}

// Coordinate returns the stream's coordinate.
func (s *Stream) Coordinate() topology.Coordinate {
	return s.coord
}

// Poisoned reports whether a write has panicked on this stream.
func (s *Stream) Poisoned() bool {
	return s.poisoned.Load()
}

// guard converts a panic in a write into a poisoned stream.
func (s *Stream) guard(err *error) {
	if r := recover(); r != nil {
		s.poisoned.Store(true)
		streamsPoisoned.Inc()
		s.engine.logger.Error("stream poisoned",
			slog.String("coordinate", s.coord.Key()),
			slog.Any("panic", r))
		*err = fmt.Errorf("%w: coordinate %s: %v", ErrStreamPoisoned, s.coord, r)
	}
}

// Apply folds op into the accumulator: S ← S^P · Q.
//
// Description:
//
//	The operator is validated and the new accumulator computed before
//	anything changes. When the buffer reaches the engine's chunk size the
//	new state is checkpointed: its leaf goes to the journal and the global
//	log, (1, S) is appended to the history, and the buffer is cleared. If
//	any step fails the stream is left exactly as it was.
//
// Inputs:
//
//	ctx - Context for cancellation of the checkpoint write.
//	op - The operator. Must carry a positive P and a member of the group.
//
// Outputs:
//
//	error - A validation or class group error, a journal error,
//	        ErrStreamPoisoned or ErrEngineHalted.
//
// Thread Safety: Exclusive on this stream. Operators on one stream are
// applied in call order.
func (s *Stream) Apply(ctx context.Context, op affine.Tuple) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.engine.halted.Load() {
		return ErrEngineHalted
	}
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned.Load() {
		return fmt.Errorf("%w: coordinate %s", ErrStreamPoisoned, s.coord)
	}
	defer s.guard(&err)

	al := s.engine.al
	if err := al.Validate(op); err != nil {
		operatorsRejected.WithLabelValues("invalid").Inc()
		return fmt.Errorf("coordinate %s: %w", s.coord, err)
	}
	next, err := al.Apply(s.state, op)
	if err != nil {
		operatorsRejected.WithLabelValues("apply").Inc()
		return fmt.Errorf("coordinate %s: %w", s.coord, err)
	}

	// full-slice expression so a failed commit never aliases s.buffer
	buffer := append(s.buffer[:len(s.buffer):len(s.buffer)], op)
	if len(buffer) >= s.engine.chunkSize {
		if err := s.commitLocked(ctx, next, buffer, triggerChunk); err != nil {
			operatorsRejected.WithLabelValues("commit").Inc()
			return err
		}
	} else {
		s.buffer = buffer
	}
	s.state = next
	s.applied++

	operatorsApplied.Inc()
	accumulatorBits.Observe(float64(next.BitLen()))
	applyDuration.Observe(time.Since(start).Seconds())
	return nil
}

// commitLocked records state as the next checkpoint. Caller holds s.mu.
func (s *Stream) commitLocked(ctx context.Context, state classgroup.Element, ops []affine.Tuple, trigger string) error {
	index := len(s.checkpoints)
	leaf, err := s.engine.commit(ctx, s.coord, index, state, ops)
	if err != nil {
		return fmt.Errorf("checkpoint %d of %s: %w", index, s.coord, err)
	}
	s.history.Append(s.engine.al.Checkpoint(state))
	s.checkpoints = append(s.checkpoints, checkpoint{state: state, ops: ops, leaf: leaf})
	s.buffer = nil
	checkpointsCommitted.WithLabelValues(trigger).Inc()

	s.engine.logger.Debug("checkpoint committed",
		slog.String("coordinate", s.coord.Key()),
		slog.Int("index", index),
		slog.Uint64("leaf", leaf),
		slog.Int("ops", len(ops)),
		slog.String("trigger", trigger))
	return nil
}

// Flush checkpoints a partially filled buffer. An empty buffer is a no-op.
func (s *Stream) Flush(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.engine.halted.Load() {
		return ErrEngineHalted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned.Load() {
		return fmt.Errorf("%w: coordinate %s", ErrStreamPoisoned, s.coord)
	}
	defer s.guard(&err)

	if len(s.buffer) == 0 {
		return nil
	}
	return s.commitLocked(ctx, s.state, s.buffer, triggerFlush)
}

// Commitment returns the current accumulator.
func (s *Stream) Commitment() (classgroup.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.poisoned.Load() {
		return classgroup.Element{}, fmt.Errorf("%w: coordinate %s", ErrStreamPoisoned, s.coord)
	}
	return s.state, nil
}

// Status returns a consistent summary of the stream.
func (s *Stream) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.poisoned.Load() {
		return Status{}, fmt.Errorf("%w: coordinate %s", ErrStreamPoisoned, s.coord)
	}
	return Status{
		Coordinate:  s.coord,
		Commitment:  s.state,
		Applied:     s.applied,
		Buffered:    len(s.buffer),
		Checkpoints: len(s.checkpoints),
	}, nil
}

// Root collapses the checkpoint history left to right.
func (s *Stream) Root() (affine.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.poisoned.Load() {
		return affine.Tuple{}, fmt.Errorf("%w: coordinate %s", ErrStreamPoisoned, s.coord)
	}
	return s.history.Root(s.engine.al)
}

// Witness proves that checkpoint index is part of the history under Root.
func (s *Stream) Witness(index int) (*topology.TimeWitness, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.poisoned.Load() {
		return nil, fmt.Errorf("%w: coordinate %s", ErrStreamPoisoned, s.coord)
	}
	return s.history.Witness(s.engine.al, index)
}

// transitionProof builds the proof for r from the stored checkpoints.
func (s *Stream) transitionProof(r Range) (*proof.StateTransitionProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.poisoned.Load() {
		return nil, fmt.Errorf("%w: coordinate %s", ErrStreamPoisoned, s.coord)
	}

	n := len(s.checkpoints)
	if r.From < 0 || r.From >= n {
		return nil, fmt.Errorf("%w: from checkpoint %d, %s has %d",
			topology.ErrWitnessOutOfRange, r.From, s.coord, n)
	}
	last := n - 1
	if !r.Live {
		if r.To < r.From || r.To >= n {
			return nil, fmt.Errorf("%w: to checkpoint %d, from %d, %s has %d",
				topology.ErrWitnessOutOfRange, r.To, r.From, s.coord, n)
		}
		last = r.To
	}

	var ops []affine.Tuple
	for k := r.From + 1; k <= last; k++ {
		ops = append(ops, s.checkpoints[k].ops...)
	}
	final := s.checkpoints[last].state
	if r.Live {
		ops = append(ops, s.buffer...)
		final = s.state
	}

	inclusion, err := s.engine.log.Prove(s.checkpoints[r.From].leaf)
	if err != nil {
		return nil, fmt.Errorf("inclusion proof for %s checkpoint %d: %w", s.coord, r.From, err)
	}
	if len(ops) > proof.MaxReplayOps {
		return nil, fmt.Errorf("%w: %d operators between checkpoints %d and %d of %s",
			proof.ErrReplayTooLong, len(ops), r.From, last, s.coord)
	}
	if ops == nil {
		ops = []affine.Tuple{}
	}
	return &proof.StateTransitionProof{
		CheckpointState:   s.checkpoints[r.From].state,
		Inclusion:         *inclusion,
		ReplayOps:         ops,
		ClaimedFinalState: final,
	}, nil
}
