// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Evolver/services/evolver"
	"github.com/AleutianAI/Evolver/services/evolver/config"
	"github.com/AleutianAI/Evolver/services/evolver/params"
	"github.com/AleutianAI/Evolver/services/evolver/telemetry"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Builds the system parameters, replays the journal into a fresh engine and
serves the evolver API under /v1/evolver. Parameter failures are fatal.
SIGINT or SIGTERM flushes partial chunks and shuts down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe owns the process lifetime of the service.
//
// Description:
//
//	Starts, in order: logging, telemetry, the service (parameters, journal,
//	recovery), the HTTP server, the config watcher and the periodic
//	symmetry check. All long-running pieces share one errgroup; the first
//	failure or a shutdown signal stops the rest.
func runServe(ctx context.Context, opts *globalOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, levelVar, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	if ok, limit := params.SecureMemoryStatus(); !ok {
		log.Warn("raise the mlock limit (ulimit -l) to keep seeds out of swap",
			slog.Int64("limit_kb", limit))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg.Telemetry.ServiceVersion = evolver.ServiceVersion
	providers, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	svc, err := evolver.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("close service", slog.String("error", err.Error()))
		}
	}()

	meter := otel.Meter("evolver.http")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return err
	}
	reg, err := metrics.RegisterLogSize(meter, func() int64 {
		_, size := svc.Engine().LogRoot()
		return int64(size)
	})
	if err != nil {
		return err
	}
	defer func() { _ = reg.Unregister() }()

	router := evolver.NewRouter(svc, evolver.RouterOptions{
		ServiceName:    cfg.Telemetry.ServiceName,
		Metrics:        metrics,
		MetricsHandler: providers.MetricsHandler(),
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})

	if opts.configPath != "" {
		path, err := filepath.Abs(opts.configPath)
		if err != nil {
			return err
		}
		watcher, err := config.NewWatcher(path, levelVar, func(next *config.Config) {
			log.Info("config reloaded; only the log level applies without a restart",
				slog.String("level", next.Logging.Level))
		}, log)
		if err != nil {
			return err
		}
		defer watcher.Stop()
		g.Go(func() error { return watcher.Start(gctx) })
	}

	if cfg.Engine.SymmetryInterval > 0 {
		g.Go(func() error {
			return symmetryLoop(gctx, svc, cfg.Engine.SymmetryInterval, log)
		})
	}

	err = g.Wait()

	// Checkpoint whatever is buffered so a clean stop loses nothing.
	fctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if ferr := svc.Engine().Flush(fctx); ferr != nil {
		log.Error("final flush", slog.String("error", ferr.Error()))
		err = errors.Join(err, ferr)
	}
	return err
}

// symmetryLoop runs the holographic symmetry check every interval. A
// violation halts the engine and ends the process.
func symmetryLoop(ctx context.Context, svc *evolver.Service, interval time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			root, err := svc.Engine().VerifySymmetry(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("symmetry check failed", slog.String("error", err.Error()))
				return err
			}
			log.Debug("symmetry check passed", slog.String("root", root.String()))
		}
	}
}
