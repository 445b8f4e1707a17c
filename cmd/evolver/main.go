// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command evolver runs the class group state-streaming service and its
// offline tools.
//
// Usage:
//
//	evolver serve --config evolver.yaml
//	evolver params seed --bits 2048 --seed-hex 65766f6c766572
//	evolver params trustless --beacon <hex> --output <hex> --proof <hex>
//	evolver prime "hello" --bits 64
//	evolver vdf prove --input beacon --iterations 65536
//	evolver proof verify --file proof.json --root <hex> --config evolver.yaml
//
// Example requests against a running server:
//
//	# Health check
//	curl http://localhost:8087/v1/evolver/health
//
//	# Apply a token operator to coordinate (0,1)
//	curl -X POST http://localhost:8087/v1/evolver/streams/apply \
//	  -H "Content-Type: application/json" \
//	  -d '{"coordinate": [0, 1], "operators": [{"token": "event-42"}]}'
package main

import (
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	// Seed buffers live in memguard enclaves; wipe them on every exit path.
	defer memguard.Purge()

	if err := newRootCmd().Execute(); err != nil {
		memguard.Purge()
		os.Exit(1)
	}
}
