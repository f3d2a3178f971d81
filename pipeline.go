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

package streametl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Package streametl provides a small, interface-driven streaming pipeline for record batches.
//
// Core Concepts:
//   - DataSource: Interface for reading records (e.g., Kinesis entries, JSON lines, S3 objects).
//   - DataSink: Interface for writing records (e.g., CSV, Parquet, PostgreSQL).
//   - Transformer: Interface for transforming records (validation, enrichment, projection).
//   - Filter: Interface for filtering records based on custom logic.
//   - Pipeline: Composable, chainable pipeline for record-by-record processing.
//   - ErrorStrategy: Configurable error handling (fail fast, skip, collect, custom handler).
//
// Example usage:
//
//   pipeline, err := streametl.NewPipeline().
//       From(source).
//       Transform(stage).
//       To(sink).
//       WithErrorStrategy(streametl.SkipErrors).
//       Build()
//   if err != nil { return err }
//   if err := pipeline.Execute(ctx); err != nil { return err }

// PipelineBuilder provides a fluent API for constructing transformation pipelines.
// Use NewPipeline() to create a new builder, then chain From, Transform, Filter, To, and configuration methods.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder for constructing a pipeline.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			transformers: make([]Transformer, 0),
			filters:      make([]Filter, 0),
			strategy:     FailFast,
		},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a Transformer to the pipeline.
func (pb *PipelineBuilder) Transform(transformer Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a Filter to the pipeline.
func (pb *PipelineBuilder) Filter(filter Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// Map adds a mapping transformation to the pipeline using a function.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record Record) (Record, error)) *PipelineBuilder {
	return pb.Transform(TransformFunc(fn))
}

// Where adds a filtering condition to the pipeline using a function.
func (pb *PipelineBuilder) Where(fn func(ctx context.Context, record Record) (bool, error)) *PipelineBuilder {
	return pb.Filter(FilterFunc(fn))
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// WithErrorStrategy sets the error handling strategy for the pipeline.
func (pb *PipelineBuilder) WithErrorStrategy(strategy ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets a custom error handler for the pipeline.
func (pb *PipelineBuilder) WithErrorHandler(handler ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// Build validates and constructs the Pipeline from the builder.
//
// Returns the constructed pipeline, or an error if required components are missing.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	return pb.pipeline, nil
}

// PipelineStats holds record counters for one Execute call.
type PipelineStats struct {
	RecordsRead     int64
	RecordsWritten  int64
	RecordsSkipped  int64
	RecordsFiltered int64
}

// Pipeline represents a data processing pipeline for streaming operations.
//
// Use Execute to process all records from the DataSource through transformations and filters, writing to the DataSink.
type Pipeline struct {
	transformers []Transformer
	filters      []Filter
	source       DataSource
	sink         DataSink
	strategy     ErrorStrategy
	errorHandler ErrorHandler

	mu     sync.Mutex
	stats  PipelineStats
	errors []error
}

// Execute runs the pipeline, processing all records from source to sink.
//
// The source is closed and the sink flushed and closed when Execute returns. Sinks that
// publish on Close (object-store uploads) report their failure through the returned error.
// If the run fails and the sink implements Aborter, it is aborted instead so no partial
// output is published.
// Error handling for individual records is governed by the configured ErrorStrategy and ErrorHandler.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	defer func() {
		if p.source != nil {
			p.source.Close()
		}
		if p.sink == nil {
			return
		}
		if aborter, ok := p.sink.(Aborter); ok && err != nil {
			aborter.Abort()
			return
		}
		flushErr := p.sink.Flush()
		closeErr := p.sink.Close()
		if err == nil {
			err = errors.Join(flushErr, closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Read next record
		record, err := p.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		p.count(func(s *PipelineStats) { s.RecordsRead++ })

		// Skip empty records early
		if len(record) == 0 {
			continue
		}

		transformedRecord, err := p.applyTransformations(ctx, record)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}

		// Transformers drop a record by returning it empty
		if len(transformedRecord) == 0 {
			p.count(func(s *PipelineStats) { s.RecordsFiltered++ })
			continue
		}

		shouldInclude, err := p.applyFilters(ctx, transformedRecord)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if !shouldInclude {
			p.count(func(s *PipelineStats) { s.RecordsFiltered++ })
			continue
		}

		if err := p.sink.Write(ctx, transformedRecord); err != nil {
			if err := p.handleError(ctx, transformedRecord, err); err != nil {
				return err
			}
			continue
		}
		p.count(func(s *PipelineStats) { s.RecordsWritten++ })
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Errors returns the errors gathered under CollectErrors.
func (p *Pipeline) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errors...)
}

func (p *Pipeline) count(fn func(*PipelineStats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

// applyFilters applies all configured filters to a record.
func (p *Pipeline) applyFilters(ctx context.Context, record Record) (bool, error) {
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

// applyTransformations applies all configured transformers to a record in sequence.
func (p *Pipeline) applyTransformations(ctx context.Context, record Record) (Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		current = transformed
	}
	return current, nil
}

// handleError handles errors according to the pipeline's error strategy and handler.
// Returns an error if processing should stop, or nil to continue.
func (p *Pipeline) handleError(ctx context.Context, record Record, err error) error {
	switch p.strategy {
	case FailFast:
		return err
	case SkipErrors:
		p.count(func(s *PipelineStats) { s.RecordsSkipped++ })
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	case CollectErrors:
		p.mu.Lock()
		p.errors = append(p.errors, err)
		p.stats.RecordsSkipped++
		p.mu.Unlock()
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}
