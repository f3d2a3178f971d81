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

// Package processor turns a batch of raw records into enriched records. Records that fail
// validation are dropped and counted; they never fail the batch.
package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/enrich"
	"github.com/aaronlmathis/streametl/metrics"
	"github.com/aaronlmathis/streametl/readers"
	"github.com/aaronlmathis/streametl/schema"
	"github.com/aaronlmathis/streametl/writers"
)

// DecodePolicy decides what a payload that is not a JSON object does to its batch.
type DecodePolicy string

const (
	// FailBatch aborts the batch on the first undecodable payload.
	FailBatch DecodePolicy = "fail_batch"
	// SkipRecord drops the payload and continues.
	SkipRecord DecodePolicy = "skip_record"
)

// ParseDecodePolicy parses a policy name. Empty means FailBatch.
func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch DecodePolicy(s) {
	case "", FailBatch:
		return FailBatch, nil
	case SkipRecord:
		return SkipRecord, nil
	default:
		return "", fmt.Errorf("unknown decode policy %q", s)
	}
}

// Result describes one processed batch.
type Result struct {
	Records        []streametl.Record // Enriched records in input order
	Received       int                // Records and payloads read from the source
	Dropped        int                // Received minus len(Records)
	DecodeFailures int                // Payloads skipped under SkipRecord
}

// Processor validates and enriches batches.
type Processor struct {
	schema   *schema.Schema
	enricher *enrich.Enricher
	policy   DecodePolicy
	logger   *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

func WithSchema(s *schema.Schema) Option {
	return func(p *Processor) {
		p.schema = s
	}
}

func WithEnricher(e *enrich.Enricher) Option {
	return func(p *Processor) {
		p.enricher = e
	}
}

func WithDecodePolicy(policy DecodePolicy) Option {
	return func(p *Processor) {
		p.policy = policy
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// New creates a Processor for the transaction schema with the default enricher.
func New(opts ...Option) *Processor {
	p := &Processor{
		schema:   schema.TransactionSchema(),
		enricher: enrich.New(),
		policy:   FailBatch,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.L()
	}
	return p
}

// Enricher returns the enricher in use.
func (p *Processor) Enricher() *enrich.Enricher {
	return p.enricher
}

// Process validates and enriches records in order. Invalid records are dropped. The
// result is never nil; the only error is context cancellation.
func (p *Processor) Process(ctx context.Context, records []streametl.Record) ([]streametl.Record, error) {
	result, err := p.ProcessBatch(ctx, records)
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// ProcessBatch is Process with batch counters.
func (p *Processor) ProcessBatch(ctx context.Context, records []streametl.Record) (Result, error) {
	return p.ProcessSource(ctx, readers.NewSliceReader(records))
}

// ProcessSource drains src through validation and enrichment. Undecodable payloads
// (*readers.PayloadError) follow the decode policy; any other source error stops the batch
// and is returned.
func (p *Processor) ProcessSource(ctx context.Context, src streametl.DataSource) (Result, error) {
	sink := writers.NewMemoryWriter()
	drops := &dropCounter{}

	pipeline, err := streametl.NewPipeline().
		From(src).
		Transform(p.enricher.Transformer(p.schema)).
		To(sink).
		WithErrorStrategy(streametl.SkipErrors).
		WithErrorHandler(streametl.ErrorHandlerFunc(func(ctx context.Context, record streametl.Record, err error) error {
			return p.handleDrop(err, drops)
		})).
		Build()
	if err != nil {
		return Result{}, err
	}

	if err := pipeline.Execute(ctx); err != nil {
		return Result{}, err
	}

	records := sink.Records()
	read := int(pipeline.Stats().RecordsRead)

	// Empty records are read but never reach the transformer.
	if empty := read - len(records) - drops.invalid; empty > 0 {
		metrics.RecordsDropped.WithLabelValues(metrics.ReasonValidation).Add(float64(empty))
	}

	result := Result{
		Records:        records,
		Received:       read + drops.decode,
		DecodeFailures: drops.decode,
	}
	result.Dropped = result.Received - len(records)

	metrics.RecordsReceived.Add(float64(result.Received))
	metrics.RecordsValid.Add(float64(len(records)))
	return result, nil
}

type dropCounter struct {
	decode  int
	invalid int
}

// handleDrop decides whether a record-level error stops the batch.
func (p *Processor) handleDrop(err error, drops *dropCounter) error {
	if readers.IsPayloadError(err) {
		if p.policy != SkipRecord {
			return err
		}
		drops.decode++
		metrics.RecordsDropped.WithLabelValues(metrics.ReasonDecode).Inc()
		p.logger.Debug("skipping undecodable payload", zap.Error(err))
		return nil
	}

	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		drops.invalid++
		metrics.RecordsDropped.WithLabelValues(metrics.ReasonValidation).Inc()
		p.logger.Debug("dropping invalid record",
			zap.String("field", verr.Field),
			zap.String("reason", verr.Reason))
		return nil
	}

	return err
}
