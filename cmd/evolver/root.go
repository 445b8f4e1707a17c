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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Evolver/pkg/logging"
	"github.com/AleutianAI/Evolver/services/evolver/config"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "evolver",
		Short:         "Class group state-streaming engine",
		Long:          "Evolver folds affine operators into per-coordinate class group accumulators and serves verifiable state-transition proofs.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "emit JSON logs and JSON command output")

	root.AddCommand(
		newServeCmd(opts),
		newParamsCmd(opts),
		newPrimeCmd(opts),
		newVDFCmd(opts),
		newProofCmd(opts),
	)
	return root
}

// loadConfig reads the config file and applies the flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.json {
		cfg.Logging.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg and installs it as the slog
// default. The returned LevelVar lets a config reload change the level.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, *slog.LevelVar, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	levelVar := new(slog.LevelVar)
	logger := logging.New(logging.Config{
		Level:    level,
		LevelVar: levelVar,
		LogDir:   cfg.Dir,
		Service:  "evolver",
		JSON:     cfg.JSON,
	})
	slog.SetDefault(logger.Slog())
	return logger, levelVar, nil
}

// commandLogger is the quieter logger used by the offline subcommands.
func (o *globalOptions) commandLogger() *logging.Logger {
	level := logging.LevelWarn
	if o.logLevel != "" {
		if l, err := logging.ParseLevel(o.logLevel); err == nil {
			level = l
		}
	}
	logger := logging.New(logging.Config{Level: level, JSON: o.json})
	slog.SetDefault(logger.Slog())
	return logger
}
