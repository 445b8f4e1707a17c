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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys shared by the engine, journal and HTTP layers so a
// trace backend can join spans on the same coordinate or checkpoint.
const (
	AttrCoordinate = attribute.Key("evolver.coordinate")
	AttrCheckpoint = attribute.Key("evolver.checkpoint")
	AttrRangeFrom  = attribute.Key("evolver.range.from")
	AttrRangeTo    = attribute.Key("evolver.range.to")
	AttrTreeSize   = attribute.Key("evolver.log.tree_size")
	AttrFailure    = attribute.Key("evolver.failure")
)

// StartSpan starts a span named spanName on the named tracer from the global
// provider. The caller must End the span.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError attaches err to span and marks it failed with reason as the
// status description. An empty reason falls back to err's text. Nil span or
// nil err is a no-op.
func RecordError(span trace.Span, err error, reason string) {
	if span == nil || err == nil {
		return
	}
	if reason == "" {
		reason = err.Error()
	} else {
		span.SetAttributes(AttrFailure.String(reason))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
}

// SetSpanOK marks span successful.
func SetSpanOK(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// Checkpoint records a checkpoint event on the span in ctx.
func Checkpoint(ctx context.Context, coordinate string, index int, size uint64) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("checkpoint", trace.WithAttributes(
		AttrCoordinate.String(coordinate),
		AttrCheckpoint.Int(index),
		AttrTreeSize.Int64(int64(size)),
	))
}
