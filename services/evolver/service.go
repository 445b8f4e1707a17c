// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evolver is the HTTP service in front of the streaming engine.
//
// It composes the system parameters, the engine and its journal, and an
// optional trustless parameter generator, and exposes them through gin
// handlers under /v1/evolver.
package evolver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/config"
	"github.com/AleutianAI/Evolver/services/evolver/journal"
	"github.com/AleutianAI/Evolver/services/evolver/params"
	"github.com/AleutianAI/Evolver/services/evolver/primes"
	"github.com/AleutianAI/Evolver/services/evolver/stream"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
	"github.com/AleutianAI/Evolver/services/evolver/vdf"
)

// maxPDigits is the longest decimal P that can fit in affine.MaxPBits,
// plus room for a sign.
const maxPDigits = affine.MaxPBits*30103/100000 + 2

// Service holds the running engine and everything the handlers need.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	params    *params.SystemParameters
	group     *classgroup.Group
	generator classgroup.Element
	engine    *stream.Engine
	journal   *journal.BadgerJournal
	deriver   *params.Generator
	maxBatch  int
	logger    *slog.Logger

	derive singleflight.Group
}

// New builds a Service from cfg.
//
// Description:
//
//	Obtains the system parameters for the configured mode, builds the
//	class group and algebra, opens the journal when enabled and replays it
//	into a fresh engine. Any failure here is fatal for the process: the
//	caller should not serve with partially built parameters.
//
// Inputs:
//
//	ctx - Bounds parameter derivation and journal replay.
//	cfg - Validated configuration.
//	logger - Defaults to slog.Default().
//
// Outputs:
//
//	*Service - Ready to serve. Call Close on shutdown.
//	error - Parameter, journal or recovery failure.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "service"))

	p, g, deriver, err := BuildGroup(ctx, cfg.Params, logger)
	if err != nil {
		return nil, err
	}
	gen, err := g.Generator()
	if err != nil {
		return nil, fmt.Errorf("class group generator: %w", err)
	}

	layout, err := topology.NewLayout(cfg.Engine.Dimensions, cfg.Engine.SideLength)
	if err != nil {
		return nil, err
	}

	var j *journal.BadgerJournal
	engineCfg := stream.Config{
		Layout:    layout,
		ChunkSize: cfg.Engine.ChunkSize,
		Logger:    logger,
	}
	if cfg.Journal.Enabled {
		j, err = journal.Open(journal.Config{
			Path:          cfg.Journal.Path,
			Namespace:     cfg.Journal.Namespace,
			SyncWrites:    cfg.Journal.SyncWrites,
			InMemory:      cfg.Journal.InMemory,
			SkipCorrupted: cfg.Journal.SkipCorrupted,
			GCInterval:    cfg.Journal.GCInterval,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		engineCfg.Journal = j
	}

	engine, err := stream.NewEngine(affine.New(g), engineCfg)
	if err != nil {
		closeJournal(j)
		return nil, err
	}
	if j != nil {
		stats, err := engine.Recover(ctx)
		if err != nil {
			closeJournal(j)
			return nil, fmt.Errorf("recover engine: %w", err)
		}
		logger.Info("engine recovered",
			slog.Int("checkpoints", stats.Checkpoints),
			slog.Int("streams", stats.Streams))
	}

	logger.Info("service ready",
		slog.String("provenance", string(p.Provenance)),
		slog.String("fingerprint", p.Fingerprint),
		slog.Int("bits", p.Bits),
		slog.String("engine_id", engine.ID()))

	return &Service{
		params:    p,
		group:     g,
		generator: gen,
		engine:    engine,
		journal:   j,
		deriver:   deriver,
		maxBatch:  cfg.Server.MaxBatch,
		logger:    logger,
	}, nil
}

// BuildGroup derives the system parameters for cfg and builds their class
// group. The trustless generator is returned so callers can derive again
// at runtime with the same verifier.
func BuildGroup(ctx context.Context, cfg config.ParamsConfig, logger *slog.Logger) (*params.SystemParameters, *classgroup.Group, *params.Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	verifier, err := NewTimeLockVerifier(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	deriver, err := params.NewGenerator(params.GeneratorConfig{
		Verifier: verifier,
		Bits:     cfg.Bits,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("trustless generator: %w", err)
	}

	p, err := BuildParameters(ctx, cfg, deriver)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []classgroup.Option{classgroup.WithLogger(logger)}
	if cfg.SmallOrderBound > 0 {
		opts = append(opts, classgroup.WithSmallOrderBound(cfg.SmallOrderBound))
	}
	g, err := p.Group(opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("class group: %w", err)
	}
	return p, g, deriver, nil
}

func closeJournal(j *journal.BadgerJournal) {
	if j != nil {
		_ = j.Close()
	}
}

// NewTimeLockVerifier returns the verifier named by cfg.Verifier.
func NewTimeLockVerifier(cfg config.ParamsConfig) (params.TimeLockVerifier, error) {
	switch cfg.Verifier {
	case config.VerifierWesolowski:
		v, err := vdf.NewVerifier(cfg.VDFBits, cfg.VDFIterations)
		if err != nil {
			return nil, fmt.Errorf("wesolowski verifier: %w", err)
		}
		return v, nil
	case config.VerifierBinding, "":
		return params.BindingVerifier{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown verifier %q", config.ErrInvalidConfig, cfg.Verifier)
	}
}

// BuildParameters obtains the system parameters for the configured mode.
func BuildParameters(ctx context.Context, cfg config.ParamsConfig, deriver *params.Generator) (*params.SystemParameters, error) {
	switch cfg.Mode {
	case config.ModeSeed:
		return params.FromSeed(ctx, []byte(cfg.Seed), cfg.Bits)
	case config.ModeDiscriminant:
		d, ok := new(big.Int).SetString(cfg.Discriminant, 10)
		if !ok {
			return nil, fmt.Errorf("%w: discriminant %q", params.ErrInvalidDiscriminant, cfg.Discriminant)
		}
		return params.FromDiscriminant(d)
	case config.ModeTrustless:
		beacon, output, proof, err := cfg.TrustlessInputs()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", params.ErrInvalidTimeLockProof, err)
		}
		return deriver.DeriveTrustless(ctx, beacon, output, proof)
	default:
		return nil, fmt.Errorf("%w: unknown params mode %q", config.ErrInvalidConfig, cfg.Mode)
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *stream.Engine { return s.engine }

// Parameters returns the system parameters.
func (s *Service) Parameters() *params.SystemParameters { return s.params }

// Generator returns the class group generator used for token operators.
func (s *Service) Generator() classgroup.Element { return s.generator }

// Close flushes the journal to disk and releases it.
func (s *Service) Close() error {
	if s.journal == nil {
		return nil
	}
	return errors.Join(s.journal.Sync(), s.journal.Close())
}

// Coordinate resolves ref against the engine layout.
func (s *Service) Coordinate(ref CoordinateRef) (topology.Coordinate, error) {
	switch {
	case ref.ID != "" && len(ref.Coordinate) > 0:
		return nil, fmt.Errorf("%w: give either coordinate or id, not both", ErrInvalidRequest)
	case ref.ID != "":
		return s.engine.Layout().CoordinateFor(ref.ID), nil
	case len(ref.Coordinate) > 0:
		c := topology.Coordinate(ref.Coordinate)
		if err := s.engine.Layout().Contains(c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: coordinate or id is required", ErrInvalidRequest)
	}
}

// Operator converts a wire operator into a tuple of the system group.
func (s *Service) Operator(req OperatorRequest) (affine.Tuple, error) {
	if req.Token != "" {
		if req.P != "" || req.Q != nil {
			return affine.Tuple{}, fmt.Errorf("%w: token operators carry no p or q", ErrInvalidRequest)
		}
		return s.engine.Algebra().TokenOperator(req.Token)
	}
	if req.P == "" || req.Q == nil {
		return affine.Tuple{}, fmt.Errorf("%w: operator needs a token or both p and q", ErrInvalidRequest)
	}
	// Decimal digits bound the bit length from above; refuse before parsing.
	if len(req.P) > maxPDigits {
		return affine.Tuple{}, fmt.Errorf("%w: %w: p has %d digits", ErrInvalidRequest, affine.ErrPFactorOverflow, len(req.P))
	}
	p, ok := new(big.Int).SetString(req.P, 10)
	if !ok {
		return affine.Tuple{}, fmt.Errorf("%w: p %q is not a decimal integer", ErrInvalidRequest, req.P)
	}
	if p.BitLen() > affine.MaxPBits {
		return affine.Tuple{}, fmt.Errorf("%w: %w: p is %d bits, limit %d",
			ErrInvalidRequest, affine.ErrPFactorOverflow, p.BitLen(), affine.MaxPBits)
	}
	return affine.Tuple{P: p, Q: *req.Q}, nil
}

// ApplyOperators folds ops into the stream at coord in order.
//
// Description:
//
//	Every operator is decoded before the first is applied, so a malformed
//	batch changes nothing. Operators are then applied one by one; on an
//	apply failure the operators before it stay applied and the count of
//	those is returned with the error.
//
// Outputs:
//
//	int - Operators applied.
//	stream.Status - The stream after the last successful apply.
//	error - Decode, validation or engine error.
func (s *Service) ApplyOperators(ctx context.Context, coord topology.Coordinate, reqs []OperatorRequest) (int, stream.Status, error) {
	if len(reqs) == 0 {
		return 0, stream.Status{}, fmt.Errorf("%w: no operators", ErrInvalidRequest)
	}
	if s.maxBatch > 0 && len(reqs) > s.maxBatch {
		return 0, stream.Status{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), s.maxBatch)
	}
	ops := make([]affine.Tuple, len(reqs))
	for i, req := range reqs {
		op, err := s.Operator(req)
		if err != nil {
			return 0, stream.Status{}, fmt.Errorf("operator %d: %w", i, err)
		}
		ops[i] = op
	}

	applied := 0
	for i, op := range ops {
		if err := s.engine.Apply(ctx, coord, op); err != nil {
			st, _ := s.engine.Status(coord)
			return applied, st, fmt.Errorf("operator %d: %w", i, err)
		}
		applied++
	}
	st, err := s.engine.Status(coord)
	return applied, st, err
}

// Derive runs trustless parameter derivation. Concurrent requests with the
// same inputs share one derivation.
func (s *Service) Derive(ctx context.Context, req DeriveRequest) (*params.SystemParameters, error) {
	if s.deriver == nil {
		return nil, ErrDeriveUnavailable
	}
	beacon, err := hex.DecodeString(req.BeaconHex)
	if err != nil {
		return nil, fmt.Errorf("%w: beacon_hex: %v", ErrInvalidRequest, err)
	}
	output, err := hex.DecodeString(req.OutputHex)
	if err != nil {
		return nil, fmt.Errorf("%w: output_hex: %v", ErrInvalidRequest, err)
	}
	pf, err := hex.DecodeString(req.ProofHex)
	if err != nil {
		return nil, fmt.Errorf("%w: proof_hex: %v", ErrInvalidRequest, err)
	}

	key := req.BeaconHex + ":" + req.OutputHex + ":" + req.ProofHex
	start := time.Now()
	v, err, shared := s.derive.Do(key, func() (any, error) {
		return s.deriver.DeriveTrustless(context.WithoutCancel(ctx), beacon, output, pf)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("trustless parameters derived",
		slog.Bool("shared", shared),
		slog.Duration("elapsed", time.Since(start)))
	return v.(*params.SystemParameters), nil
}

// Prime maps input to a prime of the given width.
func (s *Service) Prime(req PrimeRequest) (*big.Int, error) {
	return primes.HashToPrime([]byte(req.Input), req.Bits)
}
