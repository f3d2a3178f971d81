//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of StreamETL.
//
// StreamETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// StreamETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with StreamETL. If not, see https://www.gnu.org/licenses/.

// Package metrics holds the Prometheus collectors for batch processing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used with RecordsDropped.
const (
	ReasonDecode     = "decode"
	ReasonValidation = "validation"
)

// Batch outcomes used with Batches.
const (
	StatusSuccess = "success"
	StatusEmpty   = "empty"
	StatusError   = "error"
)

var (
	RecordsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streametl_records_received_total",
		Help: "Total number of records received across all batches.",
	})

	RecordsValid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streametl_records_valid_total",
		Help: "Total number of records that passed validation and were enriched.",
	})

	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streametl_records_dropped_total",
		Help: "Total number of records dropped, labelled by reason.",
	}, []string{"reason"})

	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streametl_batches_total",
		Help: "Total number of batches handled, labelled by outcome and error kind.",
	}, []string{"status", "error_kind"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streametl_batch_duration_ms",
		Help:    "End-to-end batch handling latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	WriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streametl_write_duration_ms",
		Help:    "Time spent writing a batch to an output location in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"location"})
)
