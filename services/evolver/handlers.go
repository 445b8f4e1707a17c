// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/Evolver/services/evolver/hashing"
	"github.com/AleutianAI/Evolver/services/evolver/proof"
	"github.com/AleutianAI/Evolver/services/evolver/telemetry"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

// Handlers contains the HTTP handlers for the evolver service.
type Handlers struct {
	svc     *Service
	metrics *telemetry.Metrics
}

// NewHandlers creates handlers over svc. metrics may be nil.
func NewHandlers(svc *Service, metrics *telemetry.Metrics) *Handlers {
	return &Handlers{svc: svc, metrics: metrics}
}

// fail writes the mapped error response for err.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("code", code), slog.String("error", err.Error()))
	} else {
		logger.Warn("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	if h.metrics != nil {
		h.metrics.ErrorsTotal.Add(c.Request.Context(), 1, metric.WithAttributes(attribute.String("code", code)))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handlers) logger(c *gin.Context, handler string) *slog.Logger {
	logger := slog.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler))
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

// HandleHealth handles GET /v1/evolver/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	e := h.svc.Engine()
	status := "healthy"
	if e.Halted() {
		status = "halted"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:   status,
		Version:  ServiceVersion,
		EngineID: e.ID(),
		Halted:   e.Halted(),
	})
}

// HandleParams handles GET /v1/evolver/params.
func (h *Handlers) HandleParams(c *gin.Context) {
	e := h.svc.Engine()
	c.JSON(http.StatusOK, ParamsResponse{
		Parameters: h.svc.Parameters(),
		Generator:  h.svc.Generator(),
		Layout:     e.Layout(),
		ChunkSize:  e.ChunkSize(),
	})
}

// HandleApply handles POST /v1/evolver/streams/apply.
//
// Description:
//
//	Folds a batch of operators into one stream in order. The batch is
//	decoded in full before anything is applied.
//
// Request Body:
//
//	ApplyRequest
//
// Response:
//
//	200 OK: ApplyResponse
//	400 Bad Request: Malformed operator or coordinate
//	503 Service Unavailable: Stream poisoned or engine halted
func (h *Handlers) HandleApply(c *gin.Context) {
	logger := h.logger(c, "HandleApply")

	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, logger, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	coord, err := h.svc.Coordinate(req.CoordinateRef)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	applied, st, err := h.svc.ApplyOperators(c.Request.Context(), coord, req.Operators)
	if err != nil {
		logger.Debug("partial apply", slog.Int("applied", applied), slog.String("coordinate", coord.Key()))
		h.fail(c, logger, err)
		return
	}
	logger.Debug("operators applied",
		slog.String("coordinate", coord.Key()),
		slog.Int("applied", applied),
		slog.Int("checkpoints", st.Checkpoints))
	c.JSON(http.StatusOK, ApplyResponse{Applied: applied, Status: st})
}

// HandleCommitment handles GET /v1/evolver/streams/commitment.
//
// Query Parameters:
//
//	coordinate - Comma-separated axis indices, e.g. "0,3".
//	id - Alternatively, an identifier hashed onto the layout.
func (h *Handlers) HandleCommitment(c *gin.Context) {
	logger := h.logger(c, "HandleCommitment")

	ref := CoordinateRef{ID: c.Query("id")}
	if raw := c.Query("coordinate"); raw != "" {
		coord, err := topology.ParseCoordinate(raw)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		ref.Coordinate = coord
	}
	coord, err := h.svc.Coordinate(ref)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	st, err := h.svc.Engine().Status(coord)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleFlush handles POST /v1/evolver/streams/flush.
func (h *Handlers) HandleFlush(c *gin.Context) {
	logger := h.logger(c, "HandleFlush")

	e := h.svc.Engine()
	if err := e.Flush(c.Request.Context()); err != nil {
		h.fail(c, logger, err)
		return
	}
	root, size := e.LogRoot()
	logger.Info("streams flushed", slog.Uint64("log_size", size))
	c.JSON(http.StatusOK, FlushResponse{LogRoot: root.Hex(), LogSize: size})
}

// HandleProof handles POST /v1/evolver/proofs.
//
// Response:
//
//	200 OK: ProofResponse
//	400 Bad Request: Malformed coordinate
//	404 Not Found: Range outside the recorded history
func (h *Handlers) HandleProof(c *gin.Context) {
	logger := h.logger(c, "HandleProof")

	var req ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, logger, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	coord, err := h.svc.Coordinate(req.CoordinateRef)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	e := h.svc.Engine()
	p, err := e.RequestTransitionProof(c.Request.Context(), coord, req.Range)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	root, err := e.LogRootAt(p.Inclusion.TreeSize)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ProofResponse{Proof: p, Root: root.Hex()})
}

// HandleVerify handles POST /v1/evolver/proofs/verify.
//
// Description:
//
//	Verifies a proof against the supplied root, or against this service's
//	log at the proof's tree size when no root is given.
//
// Response:
//
//	200 OK: VerifyResponse with valid=true
//	422 Unprocessable Entity: VerifyResponse naming the failed step
func (h *Handlers) HandleVerify(c *gin.Context) {
	logger := h.logger(c, "HandleVerify")

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, logger, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	e := h.svc.Engine()
	var err error
	if req.Root != "" {
		root, perr := hashing.ParseDigest(req.Root)
		if perr != nil {
			h.fail(c, logger, fmt.Errorf("%w: root: %v", ErrInvalidRequest, perr))
			return
		}
		err = proof.Verify(req.Proof, root, e.Algebra())
	} else {
		err = e.VerifyTransitionProof(req.Proof)
	}

	var verr *proof.VerificationError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, VerifyResponse{Valid: true})
	case errors.As(err, &verr):
		resp := NewVerifyResponse(err)
		logger.Info("proof rejected", slog.String("step", resp.Step))
		c.JSON(http.StatusUnprocessableEntity, resp)
	default:
		h.fail(c, logger, err)
	}
}

// HandleLogRoot handles GET /v1/evolver/log/root with an optional size.
func (h *Handlers) HandleLogRoot(c *gin.Context) {
	logger := h.logger(c, "HandleLogRoot")

	e := h.svc.Engine()
	raw := c.Query("size")
	if raw == "" {
		root, size := e.LogRoot()
		c.JSON(http.StatusOK, LogRootResponse{Root: root.Hex(), Size: size})
		return
	}
	size, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.fail(c, logger, fmt.Errorf("%w: size %q", ErrInvalidRequest, raw))
		return
	}
	root, err := e.LogRootAt(size)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, LogRootResponse{Root: root.Hex(), Size: size})
}

// HandleGlobalRoot handles GET /v1/evolver/root.
//
// Query Parameters:
//
//	order - Optional comma-separated axis permutation, e.g. "1,0".
func (h *Handlers) HandleGlobalRoot(c *gin.Context) {
	logger := h.logger(c, "HandleGlobalRoot")

	e := h.svc.Engine()
	order := topology.NaturalOrder(e.Layout().Dimensions)
	if raw := c.Query("order"); raw != "" {
		parsed, err := parseInts(raw)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		order = parsed
	}
	cells, err := e.Snapshot()
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	root, err := e.GlobalRoot(c.Request.Context(), order)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, GlobalRootResponse{Order: order, Root: root, Cells: len(cells)})
}

// HandleDerive handles POST /v1/evolver/params/derive.
func (h *Handlers) HandleDerive(c *gin.Context) {
	logger := h.logger(c, "HandleDerive")

	var req DeriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, logger, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	p, err := h.svc.Derive(c.Request.Context(), req)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandlePrime handles POST /v1/evolver/primes.
func (h *Handlers) HandlePrime(c *gin.Context) {
	logger := h.logger(c, "HandlePrime")

	var req PrimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, logger, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	p, err := h.svc.Prime(req)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, PrimeResponse{Prime: p.String(), Bits: p.BitLen()})
}

func parseInts(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRequest, raw)
		}
		out[i] = v
	}
	return out, nil
}
