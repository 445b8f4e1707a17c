// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for the evolver
// service.
//
// Traces go to an OTLP collector (or stdout in development). With the
// prometheus metric exporter, Init creates a registry for the OTel
// instruments and the Go runtime collectors; Providers.MetricsHandler serves
// it together with the default registry, where the stream and proof
// packages register their promauto collectors.
//
// # Usage
//
//	providers, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer providers.Shutdown(context.Background())
//	router.GET("/metrics", gin.WrapH(providers.MetricsHandler()))
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - EVOLVER_ENV: environment name (default: development)
//
// # Thread Safety
//
// Init must be called once at startup. Everything else is safe for
// concurrent use.
package telemetry
