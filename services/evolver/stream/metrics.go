// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operatorsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evolver_stream_operators_applied_total",
		Help: "Total operators folded into stream accumulators",
	})

	operatorsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evolver_stream_operators_rejected_total",
		Help: "Total operators rejected by reason",
	}, []string{"reason"})

	checkpointsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evolver_stream_checkpoints_total",
		Help: "Total checkpoints committed to the log by trigger",
	}, []string{"trigger"})

	proofsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evolver_stream_proofs_served_total",
		Help: "Total state-transition proofs built",
	})

	streamsPoisoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evolver_stream_poisoned_total",
		Help: "Total streams poisoned by a panic during a write",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evolver_stream_active",
		Help: "Number of streams held by the engine",
	})

	logSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evolver_log_leaves",
		Help: "Number of leaves in the global commitment log",
	})

	applyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evolver_stream_apply_duration_seconds",
		Help:    "Time to apply one operator, including any checkpoint commit",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
	})

	accumulatorBits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evolver_stream_accumulator_bits",
		Help:    "Largest coefficient bit length of an accumulator after an update",
		Buckets: prometheus.ExponentialBuckets(8, 2, 10),
	})
)
