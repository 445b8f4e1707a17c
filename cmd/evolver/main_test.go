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
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Evolver/services/evolver"
	"github.com/AleutianAI/Evolver/services/evolver/config"
	"github.com/AleutianAI/Evolver/services/evolver/params"
	"github.com/AleutianAI/Evolver/services/evolver/stream"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

const testConfigYAML = `
params:
  mode: discriminant
  discriminant: "-1000003"
engine:
  dimensions: 2
  side_length: 4
  chunk_size: 2
journal:
  enabled: true
  in_memory: true
  sync_writes: false
  gc_interval: 0s
telemetry:
  trace_exporter: none
  metric_exporter: none
`

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evolver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0600))
	return path
}

func TestPrimeCmd(t *testing.T) {
	out, err := run(t, "prime", "hello", "--bits", "32", "--json")
	require.NoError(t, err)

	var resp evolver.PrimeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 32, resp.Bits)

	text, err := run(t, "prime", "hello", "--bits", "32")
	require.NoError(t, err)
	assert.Contains(t, text, resp.Prime)
	assert.NotContains(t, text, "\x1b[", "buffers are rendered without colour")

	_, err = run(t, "prime", "hello", "--bits", "1")
	assert.Error(t, err)
}

func TestVDFProveThenVerify(t *testing.T) {
	out, err := run(t, "vdf", "prove", "--input", "beacon", "--iterations", "32", "--bits", "128", "--json")
	require.NoError(t, err)

	var res vdfResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, hex.EncodeToString([]byte("beacon")), res.Input)
	assert.Equal(t, uint64(32), res.Iterations)

	out, err = run(t, "vdf", "verify",
		"--beacon", res.Input, "--output", res.Output, "--proof", res.Proof,
		"--iterations", "32", "--bits", "128")
	require.NoError(t, err)
	assert.Contains(t, out, "verified")

	_, err = run(t, "vdf", "verify",
		"--beacon", res.Input, "--output", res.Output, "--proof", res.Proof,
		"--iterations", "33", "--bits", "128")
	assert.Error(t, err, "wrong T must not verify")
}

func TestParamsBindCmd(t *testing.T) {
	out, err := run(t, "params", "bind", "--beacon", "0a0b", "--output", "0c0d", "--json")
	require.NoError(t, err)

	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	want := hex.EncodeToString(params.BindingProof([]byte{0x0a, 0x0b}, []byte{0x0c, 0x0d}))
	assert.Equal(t, want, res["proof"])

	_, err = run(t, "params", "bind", "--beacon", "zz", "--output", "0c0d")
	assert.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	opts := &globalOptions{configPath: writeConfig(t), logLevel: "debug", json: true}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, config.ModeDiscriminant, cfg.Params.Mode)
	assert.Equal(t, 4, cfg.Engine.SideLength)

	opts.logLevel = "shout"
	_, err = opts.loadConfig()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	opts = &globalOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err = opts.loadConfig()
	assert.Error(t, err)
}

// proofFixture builds a real proof with a service configured like the
// test config file.
func proofFixture(t *testing.T, cfgPath string) (proofPath, root string) {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	svc, err := evolver.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	e := svc.Engine()
	coord := topology.Coordinate{0, 1}
	for _, tok := range []string{"a", "b", "c"} {
		op, err := e.Algebra().TokenOperator(tok)
		require.NoError(t, err)
		require.NoError(t, e.Apply(ctx, coord, op))
	}
	require.NoError(t, e.Flush(ctx))

	p, err := e.RequestTransitionProof(ctx, coord, stream.Range{From: 0, To: 1})
	require.NoError(t, err)
	digest, err := e.LogRootAt(p.Inclusion.TreeSize)
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	proofPath = filepath.Join(t.TempDir(), "proof.json")
	require.NoError(t, os.WriteFile(proofPath, data, 0600))
	return proofPath, digest.Hex()
}

func TestProofVerifyCmd(t *testing.T) {
	cfgPath := writeConfig(t)
	proofPath, root := proofFixture(t, cfgPath)

	out, err := run(t, "proof", "verify", "--config", cfgPath, "--file", proofPath, "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "proof verified")

	out, err = run(t, "proof", "verify", "--config", cfgPath, "--file", proofPath, "--root", root, "--json")
	require.NoError(t, err)
	var resp evolver.VerifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Valid)
}

func TestProofVerifyCmd_WrongRoot(t *testing.T) {
	cfgPath := writeConfig(t)
	proofPath, _ := proofFixture(t, cfgPath)
	wrong := hex.EncodeToString(bytes.Repeat([]byte{0x11}, 32))

	out, err := run(t, "proof", "verify", "--config", cfgPath, "--file", proofPath, "--root", wrong, "--json")
	require.Error(t, err)

	var resp evolver.VerifyResponse
	require.NoError(t, json.NewDecoder(bytes.NewReader([]byte(out))).Decode(&resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, "inclusion", resp.Step)
}

func TestProofVerifyCmd_BadInputs(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := run(t, "proof", "verify", "--config", cfgPath, "--file", "/does/not/exist", "--root", "00")
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{"), 0600))
	root := hex.EncodeToString(make([]byte, 32))
	_, err = run(t, "proof", "verify", "--config", cfgPath, "--file", garbage, "--root", root)
	assert.Error(t, err)
}

func TestSymmetryLoop_StopsOnCancel(t *testing.T) {
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	svc, err := evolver.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = symmetryLoop(ctx, svc, 10*time.Millisecond, slog.Default())
	assert.NoError(t, err)
	assert.False(t, svc.Engine().Halted())
}
