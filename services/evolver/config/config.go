// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the evolver service configuration.
//
// Configuration is YAML layered over Default(). Validation combines
// validator struct tags with cross-field checks that tags cannot express
// (the parameter mode decides which inputs are required).
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Evolver/services/evolver/telemetry"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Parameter modes.
const (
	ModeSeed         = "seed"
	ModeTrustless    = "trustless"
	ModeDiscriminant = "discriminant"
)

// Time-lock verifiers for the trustless mode.
const (
	VerifierBinding    = "binding"
	VerifierWesolowski = "wesolowski"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Params    ParamsConfig     `yaml:"params"`
	Engine    EngineConfig     `yaml:"engine"`
	Journal   JournalConfig    `yaml:"journal"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener and request limits.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// RateLimit is the sustained requests per second allowed on write
	// routes. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`

	// MaxBatch caps the operators accepted by one apply request.
	MaxBatch int `yaml:"max_batch" validate:"gte=1,lte=100000"`
}

// ParamsConfig selects how the system discriminant is obtained.
type ParamsConfig struct {
	Mode string `yaml:"mode" validate:"oneof=seed trustless discriminant"`

	// Seed is the development seed (ModeSeed).
	Seed string `yaml:"seed"`

	// Bits is the discriminant width for ModeSeed and ModeTrustless.
	Bits int `yaml:"bits" validate:"gte=0"`

	// Discriminant is a decimal Δ (ModeDiscriminant).
	Discriminant string `yaml:"discriminant"`

	// BeaconHex, OutputHex and ProofHex are the hex-encoded trustless
	// setup inputs (ModeTrustless).
	BeaconHex string `yaml:"beacon_hex" validate:"omitempty,hexadecimal"`
	OutputHex string `yaml:"output_hex" validate:"omitempty,hexadecimal"`
	ProofHex  string `yaml:"proof_hex" validate:"omitempty,hexadecimal"`

	// Verifier checks the time-lock proof: binding or wesolowski.
	Verifier string `yaml:"verifier" validate:"oneof=binding wesolowski"`

	// VDFIterations and VDFBits configure the Wesolowski verifier.
	VDFIterations uint64 `yaml:"vdf_iterations"`
	VDFBits       int    `yaml:"vdf_bits" validate:"gte=0"`

	// SmallOrderBound overrides the generator search bound. Zero keeps
	// the default for the discriminant width.
	SmallOrderBound int64 `yaml:"small_order_bound" validate:"gte=0"`
}

// EngineConfig configures the streaming engine.
type EngineConfig struct {
	Dimensions int `yaml:"dimensions" validate:"gte=1,lte=8"`
	SideLength int `yaml:"side_length" validate:"gte=1"`
	ChunkSize  int `yaml:"chunk_size" validate:"gte=1,lte=65536"`

	// SymmetryInterval runs the holographic symmetry check periodically.
	// Zero disables the background check.
	SymmetryInterval time.Duration `yaml:"symmetry_interval" validate:"gte=0"`
}

// JournalConfig configures the durable checkpoint journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	Namespace     string        `yaml:"namespace" validate:"required"`
	InMemory      bool          `yaml:"in_memory"`
	SyncWrites    bool          `yaml:"sync_writes"`
	SkipCorrupted bool          `yaml:"skip_corrupted"`
	GCInterval    time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns a configuration that runs a development service on a
// small explicit discriminant with an in-memory journal.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8087",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       200,
			RateBurst:       400,
			MaxBatch:        4096,
		},
		Params: ParamsConfig{
			Mode:          ModeSeed,
			Seed:          "evolver-development-seed",
			Bits:          2048,
			Verifier:      VerifierBinding,
			VDFIterations: 1 << 16,
		},
		Engine: EngineConfig{
			Dimensions: 2,
			SideLength: 16,
			ChunkSize:  64,
		},
		Journal: JournalConfig{
			Enabled:    true,
			Namespace:  "default",
			InMemory:   true,
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules of the parameter
// and journal sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p := c.Params
	switch p.Mode {
	case ModeSeed:
		if p.Seed == "" {
			return fmt.Errorf("%w: params.seed is required in seed mode", ErrInvalidConfig)
		}
	case ModeDiscriminant:
		if _, ok := new(big.Int).SetString(p.Discriminant, 10); !ok {
			return fmt.Errorf("%w: params.discriminant must be a decimal integer", ErrInvalidConfig)
		}
	case ModeTrustless:
		if p.BeaconHex == "" || p.OutputHex == "" || p.ProofHex == "" {
			return fmt.Errorf("%w: beacon_hex, output_hex and proof_hex are required in trustless mode", ErrInvalidConfig)
		}
	}
	if p.Verifier == VerifierWesolowski && p.VDFIterations == 0 {
		return fmt.Errorf("%w: params.vdf_iterations must be positive for the wesolowski verifier", ErrInvalidConfig)
	}

	if c.Journal.Enabled && !c.Journal.InMemory && c.Journal.Path == "" {
		return fmt.Errorf("%w: journal.path is required for a persistent journal", ErrInvalidConfig)
	}
	return nil
}

// TrustlessInputs decodes the hex-encoded trustless setup inputs.
func (p ParamsConfig) TrustlessInputs() (beacon, output, proof []byte, err error) {
	if beacon, err = hex.DecodeString(p.BeaconHex); err != nil {
		return nil, nil, nil, fmt.Errorf("beacon_hex: %w", err)
	}
	if output, err = hex.DecodeString(p.OutputHex); err != nil {
		return nil, nil, nil, fmt.Errorf("output_hex: %w", err)
	}
	if proof, err = hex.DecodeString(p.ProofHex); err != nil {
		return nil, nil, nil, fmt.Errorf("proof_hex: %w", err)
	}
	return beacon, output, proof, nil
}

// Load reads path as YAML over Default() and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, cfg)
}

// Parse decodes data over base and validates the result.
func Parse(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Default()
	}
	if err := yaml.Unmarshal(data, base); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidConfig, err)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
	}
}
