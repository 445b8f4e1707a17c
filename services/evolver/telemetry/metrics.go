// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OTel instruments of the HTTP surface.
//
// Engine internals export through promauto in their own packages; these
// instruments cover what only the service layer sees.
type Metrics struct {
	// HTTPRequestsTotal counts requests by method, route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request latency in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks in-flight requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// RateLimitedTotal counts requests refused by the rate limiter.
	RateLimitedTotal metric.Int64Counter

	// ErrorsTotal counts handler errors by code.
	ErrorsTotal metric.Int64Counter

	// LogSize observes the number of leaves in the global log.
	LogSize metric.Int64ObservableGauge
}

// NewMetrics creates every instrument on meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("evolver.http"))
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"evolver_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"evolver_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"evolver_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.RateLimitedTotal, err = meter.Int64Counter(
		"evolver_http_rate_limited_total",
		metric.WithDescription("Requests refused by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_rate_limited_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"evolver_errors_total",
		metric.WithDescription("Total handler errors by code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterLogSize registers an observable gauge reporting sizeFunc on every
// collection.
func (m *Metrics) RegisterLogSize(meter metric.Meter, sizeFunc func() int64) (metric.Registration, error) {
	var err error
	m.LogSize, err = meter.Int64ObservableGauge(
		"evolver_http_log_size",
		metric.WithDescription("Leaves in the global commitment log as seen by the service"),
		metric.WithUnit("{leaf}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create log_size: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.LogSize, sizeFunc())
		return nil
	}, m.LogSize)
}
