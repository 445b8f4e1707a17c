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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Evolver/services/evolver/telemetry"
)

// RegisterRoutes registers all /evolver routes on rg.
//
// Description:
//
//	Write and compute-heavy routes sit behind limiter; reads do not.
//
// Endpoints:
//
//	GET  /v1/evolver/health - Liveness
//	GET  /v1/evolver/params - System parameters and layout
//	POST /v1/evolver/streams/apply - Apply operators to a stream
//	GET  /v1/evolver/streams/commitment - Current commitment of a stream
//	POST /v1/evolver/streams/flush - Checkpoint every partial buffer
//	POST /v1/evolver/proofs - Build a state-transition proof
//	POST /v1/evolver/proofs/verify - Verify a proof
//	GET  /v1/evolver/log/root - Log root, optionally at a past size
//	GET  /v1/evolver/root - Folded global root
//	POST /v1/evolver/params/derive - Trustless parameter derivation
//	POST /v1/evolver/primes - Hash-to-prime
//
// Example:
//
//	v1 := router.Group("/v1")
//	evolver.RegisterRoutes(v1, handlers, rate.NewLimiter(200, 400), metrics)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *rate.Limiter, metrics *telemetry.Metrics) {
	ev := rg.Group("/evolver")
	{
		ev.GET("/health", handlers.HandleHealth)
		ev.GET("/params", handlers.HandleParams)
		ev.GET("/streams/commitment", handlers.HandleCommitment)
		ev.GET("/log/root", handlers.HandleLogRoot)

		limited := ev.Group("", RateLimit(limiter, metrics))
		{
			limited.GET("/root", handlers.HandleGlobalRoot)
			limited.POST("/proofs/verify", handlers.HandleVerify)
			limited.POST("/streams/apply", handlers.HandleApply)
			limited.POST("/streams/flush", handlers.HandleFlush)
			limited.POST("/proofs", handlers.HandleProof)
			limited.POST("/params/derive", handlers.HandleDerive)
			limited.POST("/primes", handlers.HandlePrime)
		}
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName names the otelgin tracer. Empty disables HTTP tracing.
	ServiceName string

	// Metrics enables the request metrics middleware. May be nil.
	Metrics *telemetry.Metrics

	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler

	// RateLimit is requests per second on limited routes. Zero disables.
	RateLimit float64
	RateBurst int
}

// NewRouter builds the gin engine with recovery, request IDs, tracing,
// metrics and the evolver routes.
func NewRouter(svc *Service, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID())
	if opts.ServiceName != "" {
		router.Use(otelgin.Middleware(opts.ServiceName))
	}
	if opts.Metrics != nil {
		router.Use(telemetry.MetricsMiddleware(opts.Metrics))
	}
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	RegisterRoutes(router.Group("/v1"), NewHandlers(svc, opts.Metrics), limiter, opts.Metrics)
	return router
}
