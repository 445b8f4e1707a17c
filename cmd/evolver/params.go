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
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Evolver/services/evolver"
	"github.com/AleutianAI/Evolver/services/evolver/config"
	"github.com/AleutianAI/Evolver/services/evolver/params"
)

func newParamsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Generate system parameters",
		PersistentPreRun: func(*cobra.Command, []string) {
			// Purge seed enclaves if the search is interrupted.
			memguard.CatchInterrupt()
		},
	}
	cmd.AddCommand(
		newParamsSeedCmd(opts),
		newParamsTrustlessCmd(opts),
		newParamsBindCmd(opts),
	)
	return cmd
}

func newParamsSeedCmd(opts *globalOptions) *cobra.Command {
	var (
		bits    int
		seedHex string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Derive a development discriminant from a seed",
		Long: `Derives Δ deterministically from a secret seed. The seed is held in locked
memory for the duration of the search. Development use only: whoever knows
the seed can recompute Δ. Failure is fatal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.commandLogger()
			defer logger.Close()

			raw, err := hex.DecodeString(seedHex)
			if err != nil {
				return fmt.Errorf("--seed-hex: %w", err)
			}
			seed := memguard.NewBufferFromBytes(raw)
			defer seed.Destroy()

			p := params.MustFromSeed(cmd.Context(), seed.Bytes(), bits)
			return printParameters(newPrinter(cmd.OutOrStdout(), opts.json), p)
		},
	}
	cmd.Flags().IntVar(&bits, "bits", params.MinSeedBits, "bit length of |Δ|")
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "hex-encoded seed")
	_ = cmd.MarkFlagRequired("seed-hex")
	return cmd
}

func newParamsTrustlessCmd(opts *globalOptions) *cobra.Command {
	pc := config.ParamsConfig{Mode: config.ModeTrustless}
	cmd := &cobra.Command{
		Use:   "trustless",
		Short: "Derive production parameters from a verified time-lock output",
		Long: `Verifies the time-lock proof over the public beacon, then derives Δ from the
beacon and output. Any verification failure is fatal; there is no fallback.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.commandLogger()
			defer logger.Close()

			beacon, output, proof, err := pc.TrustlessInputs()
			if err != nil {
				return err
			}
			verifier, err := evolver.NewTimeLockVerifier(pc)
			if err != nil {
				return err
			}
			gen, err := params.NewGenerator(params.GeneratorConfig{
				Verifier: verifier,
				Bits:     pc.Bits,
				Logger:   logger.Slog(),
			})
			if err != nil {
				return err
			}
			p := gen.MustDeriveTrustless(cmd.Context(), beacon, output, proof)
			return printParameters(newPrinter(cmd.OutOrStdout(), opts.json), p)
		},
	}
	f := cmd.Flags()
	f.StringVar(&pc.BeaconHex, "beacon", "", "hex-encoded public beacon")
	f.StringVar(&pc.OutputHex, "output", "", "hex-encoded time-lock output")
	f.StringVar(&pc.ProofHex, "proof", "", "hex-encoded time-lock proof")
	f.IntVar(&pc.Bits, "bits", params.DefaultTrustlessBits, "bit length of |Δ|")
	f.StringVar(&pc.Verifier, "verifier", config.VerifierWesolowski, "time-lock verifier (binding, wesolowski)")
	f.Uint64Var(&pc.VDFIterations, "vdf-iterations", 1<<16, "VDF squarings T for the wesolowski verifier")
	f.IntVar(&pc.VDFBits, "vdf-bits", 0, "VDF group width (0 = default)")
	for _, name := range []string{"beacon", "output", "proof"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// newParamsBindCmd prints the proof the binding verifier accepts, so a
// development setup can run the trustless path without a real VDF.
func newParamsBindCmd(opts *globalOptions) *cobra.Command {
	var beaconHex, outputHex string
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Compute a development binding proof for a beacon and output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			beacon, err := hex.DecodeString(beaconHex)
			if err != nil {
				return fmt.Errorf("--beacon: %w", err)
			}
			output, err := hex.DecodeString(outputHex)
			if err != nil {
				return fmt.Errorf("--output: %w", err)
			}
			proof := hex.EncodeToString(params.BindingProof(beacon, output))
			return newPrinter(cmd.OutOrStdout(), opts.json).result("Binding proof",
				[]field{{"proof", proof}},
				map[string]string{"proof": proof})
		},
	}
	cmd.Flags().StringVar(&beaconHex, "beacon", "", "hex-encoded beacon")
	cmd.Flags().StringVar(&outputHex, "output", "", "hex-encoded output")
	_ = cmd.MarkFlagRequired("beacon")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func printParameters(p *printer, sp *params.SystemParameters) error {
	return p.result("System parameters", []field{
		{"provenance", string(sp.Provenance)},
		{"bits", strconv.Itoa(sp.Bits)},
		{"fingerprint", sp.Fingerprint},
		{"attempts", strconv.FormatUint(sp.Attempts, 10)},
		{"discriminant", sp.Discriminant.String()},
	}, sp)
}
