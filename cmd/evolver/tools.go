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
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Evolver/services/evolver"
	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/hashing"
	"github.com/AleutianAI/Evolver/services/evolver/primes"
	"github.com/AleutianAI/Evolver/services/evolver/proof"
	"github.com/AleutianAI/Evolver/services/evolver/vdf"
)

// =============================================================================
// prime
// =============================================================================

func newPrimeCmd(opts *globalOptions) *cobra.Command {
	var bits int
	cmd := &cobra.Command{
		Use:   "prime <input>",
		Short: "Map an input to a prime of exactly --bits bits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := primes.HashToPrime([]byte(args[0]), bits)
			if err != nil {
				return err
			}
			out := evolver.PrimeResponse{Prime: p.String(), Bits: p.BitLen()}
			return newPrinter(cmd.OutOrStdout(), opts.json).result("Hash to prime", []field{
				{"input", args[0]},
				{"bits", strconv.Itoa(out.Bits)},
				{"prime", out.Prime},
			}, out)
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 64, "bit length of the prime")
	return cmd
}

// =============================================================================
// vdf
// =============================================================================

type vdfResult struct {
	Input      string `json:"input"`
	Iterations uint64 `json:"iterations"`
	Output     string `json:"output"`
	Proof      string `json:"proof"`
}

func newVDFCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vdf",
		Short: "Compute and check Wesolowski time-lock proofs",
	}

	var (
		input      string
		iterations uint64
		bits       int
	)
	prove := &cobra.Command{
		Use:   "prove",
		Short: "Run T sequential squarings over the input and print output and proof",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.commandLogger()
			defer logger.Close()

			output, pi, err := vdf.NewProver(bits, logger.Slog()).Prove(cmd.Context(), []byte(input), iterations)
			if err != nil {
				return err
			}
			res := vdfResult{
				Input:      hex.EncodeToString([]byte(input)),
				Iterations: iterations,
				Output:     hex.EncodeToString(output),
				Proof:      hex.EncodeToString(pi),
			}
			return newPrinter(cmd.OutOrStdout(), opts.json).result("VDF proof", []field{
				{"beacon", res.Input},
				{"iterations", strconv.FormatUint(iterations, 10)},
				{"output", res.Output},
				{"proof", res.Proof},
			}, res)
		},
	}
	prove.Flags().StringVar(&input, "input", "", "challenge input (raw string)")
	prove.Flags().Uint64Var(&iterations, "iterations", 1<<16, "number of squarings T")
	prove.Flags().IntVar(&bits, "bits", vdf.DefaultBits, "VDF group width")
	_ = prove.MarkFlagRequired("input")

	var beaconHex, outputHex, proofHex string
	var vIterations uint64
	var vBits int
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check a Wesolowski proof",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			decoded := make([][]byte, 3)
			for i, s := range []string{beaconHex, outputHex, proofHex} {
				b, err := hex.DecodeString(s)
				if err != nil {
					return fmt.Errorf("decode hex argument %d: %w", i+1, err)
				}
				decoded[i] = b
			}
			v, err := vdf.NewVerifier(vBits, vIterations)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), opts.json)
			if err := v.Verify(cmd.Context(), decoded[0], decoded[1], decoded[2]); err != nil {
				p.status(false, err.Error())
				return err
			}
			p.status(true, "time-lock proof verified")
			return nil
		},
	}
	verify.Flags().StringVar(&beaconHex, "beacon", "", "hex-encoded challenge input")
	verify.Flags().StringVar(&outputHex, "output", "", "hex-encoded output")
	verify.Flags().StringVar(&proofHex, "proof", "", "hex-encoded proof")
	verify.Flags().Uint64Var(&vIterations, "iterations", 1<<16, "number of squarings T")
	verify.Flags().IntVar(&vBits, "bits", vdf.DefaultBits, "VDF group width")
	for _, name := range []string{"beacon", "output", "proof"} {
		_ = verify.MarkFlagRequired(name)
	}

	cmd.AddCommand(prove, verify)
	return cmd
}

// =============================================================================
// proof
// =============================================================================

func newProofCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Work with state-transition proofs",
	}

	var file, rootHex string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify a state-transition proof against a trusted log root",
		Long: `Reads a proof as returned by POST /v1/evolver/proofs and verifies binding,
log inclusion and replay against --root. The discriminant comes from the
params section of --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.commandLogger()
			defer logger.Close()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			root, err := hashing.ParseDigest(rootHex)
			if err != nil {
				return fmt.Errorf("--root: %w", err)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var p proof.StateTransitionProof
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("decode proof %s: %w", file, err)
			}

			_, g, _, err := evolver.BuildGroup(cmd.Context(), cfg.Params, logger.Slog())
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout(), opts.json)
			verr := proof.Verify(&p, root, affine.New(g))
			res := evolver.NewVerifyResponse(verr)
			if opts.json {
				if err := out.result("", nil, res); err != nil {
					return err
				}
			}
			if verr != nil {
				out.status(false, verr.Error())
				return verr
			}
			out.status(true, fmt.Sprintf("proof verified (%d replay ops, tree size %d)",
				len(p.ReplayOps), p.Inclusion.TreeSize))
			return nil
		},
	}
	verify.Flags().StringVarP(&file, "file", "f", "", "proof JSON file")
	verify.Flags().StringVar(&rootHex, "root", "", "hex-encoded trusted log root")
	_ = verify.MarkFlagRequired("file")
	_ = verify.MarkFlagRequired("root")

	cmd.AddCommand(verify)
	return cmd
}
