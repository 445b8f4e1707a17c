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
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/journal"
	"github.com/AleutianAI/Evolver/services/evolver/proof"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

var testDiscriminant = big.NewInt(-1000003)

type memJournal struct {
	mu        sync.Mutex
	entries   []journal.Entry
	failNext  error
	panicNext bool
}

func (m *memJournal) Append(_ context.Context, e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicNext {
		m.panicNext = false
		panic("journal device vanished")
	}
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) Replay(context.Context) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.Entry(nil), m.entries...), nil
}

func newAlgebra(t *testing.T) (*affine.Algebra, classgroup.Element) {
	t.Helper()
	g, err := classgroup.NewGroup(testDiscriminant)
	require.NoError(t, err)
	return affine.New(g), g.MustGenerator()
}

func newEngine(t *testing.T, al *affine.Algebra, chunk int, j Journal) *Engine {
	t.Helper()
	e, err := NewEngine(al, Config{
		Layout:    topology.Layout{Dimensions: 2, SideLength: 4},
		ChunkSize: chunk,
		Journal:   j,
	})
	require.NoError(t, err)
	return e
}

// ops returns n distinct valid operators.
func ops(t *testing.T, al *affine.Algebra, gen classgroup.Element, n int) []affine.Tuple {
	t.Helper()
	out := make([]affine.Tuple, n)
	for i := range out {
		if i%3 == 0 {
			op, err := al.TokenOperator(fmt.Sprintf("token-%d", i))
			require.NoError(t, err)
			out[i] = op
			continue
		}
		q, err := al.Group().PowUint64(gen, uint64(i+1))
		require.NoError(t, err)
		out[i] = affine.Tuple{P: big.NewInt(int64(2*i + 3)), Q: q}
	}
	return out
}

func applyAll(t *testing.T, e *Engine, coord topology.Coordinate, list []affine.Tuple) {
	t.Helper()
	for i, op := range list {
		require.NoError(t, e.Apply(context.Background(), coord, op), "op %d", i)
	}
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

func TestNewEngine_Validation(t *testing.T) {
	al, _ := newAlgebra(t)
	layout := topology.Layout{Dimensions: 2, SideLength: 4}

	_, err := NewEngine(nil, Config{Layout: layout})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(al, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(al, Config{Layout: layout, ChunkSize: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(al, Config{Layout: layout, ChunkSize: MaxChunkSize + 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	e, err := NewEngine(al, Config{Layout: layout})
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, e.ChunkSize())
	assert.NotEmpty(t, e.ID())
	assert.False(t, e.Halted())
	assert.Equal(t, layout, e.Layout())
	assert.Same(t, al, e.Algebra())
}

// -----------------------------------------------------------------------------
// Accumulator
// -----------------------------------------------------------------------------

func TestEngine_AccumulatorStaysNearDiscriminantSize(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, DefaultChunkSize, nil)
	coord := topology.Coordinate{0, 0}
	op := affine.Tuple{P: big.NewInt(1009), Q: gen}

	want := al.Group().Identity()
	maxBits := testDiscriminant.BitLen()
	for i := 0; i < 100; i++ {
		require.NoError(t, e.Apply(context.Background(), coord, op))

		var err error
		want, err = al.Apply(want, op)
		require.NoError(t, err)

		got, err := e.Commitment(coord)
		require.NoError(t, err)
		require.True(t, got.Equal(want), "op %d", i)
		assert.LessOrEqual(t, got.BitLen(), maxBits, "op %d", i)
	}

	st, err := e.Status(coord)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), st.Applied)
	assert.Equal(t, 1, st.Checkpoints)
	assert.Equal(t, 36, st.Buffered)
}

func TestEngine_SerializedAccumulatorIsConstantSize(t *testing.T) {
	al, gen := newAlgebra(t)
	// three coefficients, each [4-byte length][sign][magnitude ≤ |Δ| bytes]
	bound := 3 * (5 + (testDiscriminant.BitLen()+7)/8)

	for _, n := range []int{100, 10_000} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			e := newEngine(t, al, DefaultChunkSize, nil)
			coord := topology.Coordinate{1, 2}
			list := ops(t, al, gen, 16)
			for i := 0; i < n; i++ {
				require.NoError(t, e.Apply(context.Background(), coord, list[i%len(list)]))
			}
			state, err := e.Commitment(coord)
			require.NoError(t, err)
			raw, err := state.MarshalBinary()
			require.NoError(t, err)
			assert.LessOrEqual(t, len(raw), bound)

			st, err := e.Status(coord)
			require.NoError(t, err)
			assert.Equal(t, n/DefaultChunkSize, st.Checkpoints)
		})
	}
}

func TestEngine_UntouchedCoordinateIsIdentity(t *testing.T) {
	al, _ := newAlgebra(t)
	e := newEngine(t, al, 4, nil)

	c, err := e.Commitment(topology.Coordinate{3, 3})
	require.NoError(t, err)
	assert.True(t, al.Group().IsIdentity(c))
	assert.Empty(t, e.Coordinates())

	_, err = e.Commitment(topology.Coordinate{4, 0})
	assert.ErrorIs(t, err, topology.ErrCoordinateOutOfRange)
	err = e.Apply(context.Background(), topology.Coordinate{0}, al.Identity())
	assert.ErrorIs(t, err, topology.ErrCoordinateOutOfRange)
}

func TestEngine_InvalidOperatorLeavesStreamUnchanged(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 4, nil)
	coord := topology.Coordinate{0, 1}
	applyAll(t, e, coord, ops(t, al, gen, 2))
	before, err := e.Status(coord)
	require.NoError(t, err)

	err = e.Apply(context.Background(), coord, affine.Tuple{P: big.NewInt(0), Q: gen})
	assert.ErrorIs(t, err, affine.ErrInvalidFactor)
	err = e.Apply(context.Background(), coord, affine.Tuple{P: big.NewInt(3)})
	assert.ErrorIs(t, err, classgroup.ErrMalformedElement)

	after, err := e.Status(coord)
	require.NoError(t, err)
	assert.True(t, before.Commitment.Equal(after.Commitment))
	assert.Equal(t, before.Applied, after.Applied)
	assert.Equal(t, before.Buffered, after.Buffered)
}

func TestEngine_CancelledContext(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, e.Apply(ctx, topology.Coordinate{0, 0}, affine.Tuple{P: big.NewInt(3), Q: gen}), context.Canceled)
	_, err := e.GlobalRoot(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// -----------------------------------------------------------------------------
// Checkpoints
// -----------------------------------------------------------------------------

func TestEngine_CheckpointCadenceAndFlush(t *testing.T) {
	al, gen := newAlgebra(t)
	j := &memJournal{}
	e := newEngine(t, al, 4, j)
	coord := topology.Coordinate{2, 1}
	list := ops(t, al, gen, 10)
	applyAll(t, e, coord, list)

	st, err := e.Status(coord)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Checkpoints)
	assert.Equal(t, 2, st.Buffered)
	_, size := e.LogRoot()
	assert.Equal(t, uint64(2), size)

	require.NoError(t, e.Flush(context.Background()))
	require.NoError(t, e.Flush(context.Background()))

	st, err = e.Status(coord)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Checkpoints)
	assert.Zero(t, st.Buffered)
	_, size = e.LogRoot()
	assert.Equal(t, uint64(3), size)

	entries, err := j.Replay(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, en := range entries {
		assert.Equal(t, uint64(i), en.Seq)
		assert.Equal(t, i, en.Index)
		if diff := cmp.Diff([]int{2, 1}, en.Coord); diff != "" {
			t.Errorf("entry %d coord (-want +got):\n%s", i, diff)
		}
	}
	assert.Len(t, entries[0].Ops, 4)
	assert.Len(t, entries[2].Ops, 2)
	assert.True(t, entries[2].State.Equal(st.Commitment))
}

func TestEngine_JournalFailureLeavesStreamUnchanged(t *testing.T) {
	al, gen := newAlgebra(t)
	j := &memJournal{}
	e := newEngine(t, al, 2, j)
	coord := topology.Coordinate{0, 0}
	list := ops(t, al, gen, 2)

	require.NoError(t, e.Apply(context.Background(), coord, list[0]))
	before, err := e.Status(coord)
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	j.failNext = diskFull
	err = e.Apply(context.Background(), coord, list[1])
	assert.ErrorIs(t, err, diskFull)

	after, err := e.Status(coord)
	require.NoError(t, err)
	assert.True(t, before.Commitment.Equal(after.Commitment))
	assert.Equal(t, 1, after.Buffered)
	assert.Zero(t, after.Checkpoints)
	_, size := e.LogRoot()
	assert.Zero(t, size)

	require.NoError(t, e.Apply(context.Background(), coord, list[1]))
	after, err = e.Status(coord)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Checkpoints)
	assert.Zero(t, after.Buffered)
}

func TestEngine_PanicPoisonsStream(t *testing.T) {
	al, gen := newAlgebra(t)
	j := &memJournal{}
	e := newEngine(t, al, 2, j)
	bad, good := topology.Coordinate{0, 0}, topology.Coordinate{1, 1}
	list := ops(t, al, gen, 4)

	require.NoError(t, e.Apply(context.Background(), bad, list[0]))
	j.panicNext = true
	err := e.Apply(context.Background(), bad, list[1])
	require.ErrorIs(t, err, ErrStreamPoisoned)

	_, err = e.Commitment(bad)
	assert.ErrorIs(t, err, ErrStreamPoisoned)
	assert.ErrorIs(t, e.Apply(context.Background(), bad, list[2]), ErrStreamPoisoned)
	_, err = e.RequestTransitionProof(context.Background(), bad, Range{})
	assert.ErrorIs(t, err, ErrStreamPoisoned)

	s, err := e.Stream(bad)
	require.NoError(t, err)
	assert.True(t, s.Poisoned())

	// other coordinates and the log are unaffected
	applyAll(t, e, good, list[:2])
	_, size := e.LogRoot()
	assert.Equal(t, uint64(1), size)

	assert.ErrorIs(t, e.Flush(context.Background()), ErrStreamPoisoned)
	_, err = e.Snapshot()
	assert.ErrorIs(t, err, ErrStreamPoisoned)
}

// -----------------------------------------------------------------------------
// Proofs
// -----------------------------------------------------------------------------

func TestEngine_TransitionProofs(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 3, nil)
	coord := topology.Coordinate{1, 3}
	other := topology.Coordinate{3, 0}

	list := ops(t, al, gen, 20)
	for i, op := range list {
		require.NoError(t, e.Apply(context.Background(), coord, op))
		// interleave another stream so leaves are not contiguous
		if i%4 == 0 {
			require.NoError(t, e.Apply(context.Background(), other, op))
		}
	}
	live, err := e.Commitment(coord)
	require.NoError(t, err)

	tests := []struct {
		name    string
		r       Range
		wantOps int
	}{
		{"single checkpoint", Range{From: 0, To: 0}, 0},
		{"middle", Range{From: 1, To: 4}, 9},
		{"full history", Range{From: 0, To: 5}, 15},
		{"live", Range{From: 2, Live: true}, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := e.RequestTransitionProof(context.Background(), coord, tt.r)
			require.NoError(t, err)
			assert.Len(t, p.ReplayOps, tt.wantOps)
			require.NoError(t, e.VerifyTransitionProof(p))

			if tt.r.Live {
				assert.True(t, p.ClaimedFinalState.Equal(live))
			} else {
				want, err := al.ApplyAll(p.CheckpointState, p.ReplayOps)
				require.NoError(t, err)
				assert.True(t, p.ClaimedFinalState.Equal(want))
			}
		})
	}
}

func TestEngine_ProofSurvivesLaterAppends(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 2, nil)
	coord := topology.Coordinate{0, 2}
	list := ops(t, al, gen, 12)
	applyAll(t, e, coord, list[:6])

	p, err := e.RequestTransitionProof(context.Background(), coord, Range{From: 1, To: 2})
	require.NoError(t, err)
	rootThen, sizeThen := e.LogRoot()
	assert.Equal(t, sizeThen, p.Inclusion.TreeSize)

	applyAll(t, e, coord, list[6:])
	rootNow, _ := e.LogRoot()
	require.NotEqual(t, rootThen, rootNow)

	assert.NoError(t, proof.Verify(p, rootThen, al))
	assert.NoError(t, e.VerifyTransitionProof(p))

	err = proof.Verify(p, rootNow, al)
	assert.ErrorIs(t, err, proof.ErrInclusionFailed)

	last := len(p.ReplayOps) - 1
	shifted, err := al.Group().Compose(p.ReplayOps[last].Q, gen)
	require.NoError(t, err)
	p.ReplayOps[last] = affine.Tuple{P: p.ReplayOps[last].P, Q: shifted}
	assert.ErrorIs(t, e.VerifyTransitionProof(p), proof.ErrReplayMismatch)

	p.Inclusion.TreeSize = 1000
	assert.ErrorIs(t, e.VerifyTransitionProof(p), proof.ErrInclusionFailed)
}

func TestEngine_TransitionProofOutOfRange(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 2, nil)
	coord := topology.Coordinate{1, 1}
	applyAll(t, e, coord, ops(t, al, gen, 7))
	// three checkpoints, one buffered

	for _, r := range []Range{
		{From: -1, To: 0},
		{From: 3, To: 3},
		{From: 2, To: 1},
		{From: 0, To: 3},
		{From: 3, Live: true},
	} {
		_, err := e.RequestTransitionProof(context.Background(), coord, r)
		assert.ErrorIs(t, err, topology.ErrWitnessOutOfRange, "range %+v", r)
	}

	_, err := e.RequestTransitionProof(context.Background(), topology.Coordinate{2, 2}, Range{})
	assert.ErrorIs(t, err, topology.ErrWitnessOutOfRange)
	_, err = e.RequestTransitionProof(context.Background(), topology.Coordinate{9, 9}, Range{})
	assert.ErrorIs(t, err, topology.ErrCoordinateOutOfRange)
}

func TestStream_Witness(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 2, nil)
	coord := topology.Coordinate{3, 3}
	applyAll(t, e, coord, ops(t, al, gen, 10))

	s, err := e.Stream(coord)
	require.NoError(t, err)
	root, err := s.Root()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w, err := s.Witness(i)
		require.NoError(t, err)
		assert.NoError(t, w.Verify(al, root))
	}
	_, err = s.Witness(5)
	assert.ErrorIs(t, err, topology.ErrWitnessOutOfRange)
}

// -----------------------------------------------------------------------------
// Folding
// -----------------------------------------------------------------------------

func TestEngine_GlobalRootIsOrderIndependent(t *testing.T) {
	al, gen := newAlgebra(t)
	e, err := NewEngine(al, Config{Layout: topology.Layout{Dimensions: 3, SideLength: 3}, ChunkSize: 2})
	require.NoError(t, err)

	list := ops(t, al, gen, 9)
	for i := uint64(0); i < 27; i += 4 {
		coord := e.Layout().CoordinateForIndex(i)
		applyAll(t, e, coord, list[:int(i%5)+2])
	}
	require.NoError(t, e.Flush(context.Background()))

	root, err := e.VerifySymmetry(context.Background())
	require.NoError(t, err)

	for _, order := range [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}} {
		got, err := e.GlobalRoot(context.Background(), order)
		require.NoError(t, err)
		assert.True(t, got.Equal(root), "order %v", order)
	}
	assert.False(t, e.Halted())
}

func TestEngine_HaltRefusesWrites(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 2, nil)
	coord := topology.Coordinate{0, 0}
	require.NoError(t, e.Apply(context.Background(), coord, affine.Tuple{P: big.NewInt(3), Q: gen}))

	e.halt(topology.ErrHolographicViolation)
	assert.True(t, e.Halted())
	assert.ErrorIs(t, e.Apply(context.Background(), coord, affine.Tuple{P: big.NewInt(3), Q: gen}), ErrEngineHalted)
	assert.ErrorIs(t, e.Flush(context.Background()), ErrEngineHalted)

	// reads still work
	_, err := e.Commitment(coord)
	assert.NoError(t, err)
}

// -----------------------------------------------------------------------------
// Recovery
// -----------------------------------------------------------------------------

func TestEngine_Recover(t *testing.T) {
	al, gen := newAlgebra(t)
	j := &memJournal{}
	first := newEngine(t, al, 3, j)
	a, b := topology.Coordinate{0, 1}, topology.Coordinate{2, 3}
	list := ops(t, al, gen, 10)
	applyAll(t, first, a, list)
	applyAll(t, first, b, list[:7])
	require.NoError(t, first.Flush(context.Background()))

	second := newEngine(t, al, 3, j)
	stats, err := second.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryStats{Checkpoints: 7, Streams: 2}, stats)

	for _, c := range []topology.Coordinate{a, b} {
		want, err := first.Commitment(c)
		require.NoError(t, err)
		got, err := second.Commitment(c)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "coordinate %s", c)
	}
	r1, n1 := first.LogRoot()
	r2, n2 := second.LogRoot()
	assert.Equal(t, r1, r2)
	assert.Equal(t, n1, n2)

	g1, err := first.GlobalRoot(context.Background(), nil)
	require.NoError(t, err)
	g2, err := second.GlobalRoot(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, g1.Equal(g2))

	p, err := second.RequestTransitionProof(context.Background(), a, Range{From: 0, To: 3})
	require.NoError(t, err)
	assert.NoError(t, first.VerifyTransitionProof(p))

	// the recovered engine keeps journaling at the next sequence number
	applyAll(t, second, b, list[:3])
	entries, err := j.Replay(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 8)
	assert.Equal(t, uint64(7), entries[7].Seq)

	_, err = second.Recover(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestEngine_RecoverLosesUnflushedBuffer(t *testing.T) {
	al, gen := newAlgebra(t)
	j := &memJournal{}
	first := newEngine(t, al, 3, j)
	coord := topology.Coordinate{1, 0}
	list := ops(t, al, gen, 4)
	applyAll(t, first, coord, list)

	second := newEngine(t, al, 3, j)
	_, err := second.Recover(context.Background())
	require.NoError(t, err)

	want, err := al.ApplyAll(al.Group().Identity(), list[:3])
	require.NoError(t, err)
	got, err := second.Commitment(coord)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))

	st, err := second.Status(coord)
	require.NoError(t, err)
	assert.Zero(t, st.Buffered)
	assert.Equal(t, uint64(3), st.Applied)
}

func TestEngine_RecoverRejectsInconsistentJournal(t *testing.T) {
	al, gen := newAlgebra(t)
	build := func() *memJournal {
		j := &memJournal{}
		e := newEngine(t, al, 2, j)
		applyAll(t, e, topology.Coordinate{0, 0}, ops(t, al, gen, 6))
		return j
	}

	tests := []struct {
		name   string
		tamper func(entries []journal.Entry)
	}{
		{"state", func(en []journal.Entry) {
			shifted, err := al.Group().Compose(en[1].State, gen)
			require.NoError(t, err)
			en[1].State = shifted
		}},
		{"seq", func(en []journal.Entry) { en[2].Seq = 7 }},
		{"index", func(en []journal.Entry) { en[1].Index = 0 }},
		{"coordinate", func(en []journal.Entry) { en[0].Coord = []int{9, 9} }},
		{"operator", func(en []journal.Entry) { en[0].Ops[0] = affine.Tuple{P: big.NewInt(-1), Q: gen} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := build()
			tt.tamper(j.entries)
			e := newEngine(t, al, 2, j)
			_, err := e.Recover(context.Background())
			assert.ErrorIs(t, err, ErrJournalInconsistent)
			_, size := e.LogRoot()
			assert.Zero(t, size)
			assert.Empty(t, e.Coordinates())
		})
	}

	_, err := newEngine(t, al, 2, nil).Recover(context.Background())
	assert.ErrorIs(t, err, ErrNoJournal)
}

// -----------------------------------------------------------------------------
// Concurrency
// -----------------------------------------------------------------------------

func TestEngine_ConcurrentStreams(t *testing.T) {
	al, gen := newAlgebra(t)
	e := newEngine(t, al, 5, &memJournal{})
	list := ops(t, al, gen, 40)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		coord := topology.Coordinate{i % 4, i / 4}
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, op := range list {
				if err := e.Apply(context.Background(), coord, op); err != nil {
					t.Errorf("apply %s: %v", coord, err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for k := 0; k < 40; k++ {
				if _, err := e.Commitment(coord); err != nil {
					t.Errorf("commitment %s: %v", coord, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	want, err := al.ApplyAll(al.Group().Identity(), list)
	require.NoError(t, err)
	for _, coord := range e.Coordinates() {
		got, err := e.Commitment(coord)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "coordinate %s", coord)
	}
	_, size := e.LogRoot()
	assert.Equal(t, uint64(8*8), size)
}
