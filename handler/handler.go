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

// Package handler runs one invocation: decode the batch, process it, write the output
// and describe the outcome as a Response.
package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/aggregate"
	"github.com/aaronlmathis/streametl/metrics"
	"github.com/aaronlmathis/streametl/output"
	"github.com/aaronlmathis/streametl/processor"
	"github.com/aaronlmathis/streametl/readers"
	"github.com/aaronlmathis/streametl/schema"
	"github.com/aaronlmathis/streametl/writers"
)

// Handler processes batches and writes them to an output location.
type Handler struct {
	processor *processor.Processor
	output    output.Location
	mirrors   []output.Location
	format    output.Format
	keyPrefix string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithOutput sets the primary output location. Required.
func WithOutput(loc output.Location) Option {
	return func(h *Handler) {
		h.output = loc
	}
}

// WithMirrors adds locations written after the primary one.
func WithMirrors(locs ...output.Location) Option {
	return func(h *Handler) {
		h.mirrors = append(h.mirrors, locs...)
	}
}

func WithProcessor(p *processor.Processor) Option {
	return func(h *Handler) {
		h.processor = p
	}
}

// WithClock sets the clock used for object keys.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithFormat(format output.Format) Option {
	return func(h *Handler) {
		h.format = format
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(h *Handler) {
		h.keyPrefix = prefix
	}
}

// New creates a Handler. Without WithProcessor it uses the default processor.
func New(opts ...Option) (*Handler, error) {
	h := &Handler{
		format:    output.FormatCSV,
		keyPrefix: output.DefaultKeyPrefix,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.output == nil {
		return nil, eris.New("handler: output location is required")
	}
	if h.logger == nil {
		h.logger = zap.L()
	}
	if h.processor == nil {
		h.processor = processor.New(processor.WithLogger(h.logger))
	}
	return h, nil
}

// Handle is the Lambda entry point for Kinesis events. The error is always nil: failures
// are reported in the Response so the runtime does not redeliver the batch.
func (h *Handler) Handle(ctx context.Context, event events.KinesisEvent) (Response, error) {
	return h.Run(ctx, readers.NewKinesisEventReader(event)), nil
}

// Run processes every record src yields and writes the result.
func (h *Handler) Run(ctx context.Context, src streametl.DataSource) Response {
	start := time.Now()
	log := h.logger.With(zap.String("invocation_id", uuid.NewString()))

	processed, location, err := h.runSafely(ctx, src, log)
	metrics.BatchDuration.Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		kind, status := Classify(err)
		metrics.Batches.WithLabelValues(metrics.StatusError, string(kind)).Inc()
		log.Error("batch failed",
			zap.Error(err),
			zap.String("error_kind", string(kind)),
			zap.Int("status", status))
		return errorResponse(err)
	}

	if processed == 0 {
		metrics.Batches.WithLabelValues(metrics.StatusEmpty, "").Inc()
		log.Info("no valid records to process")
		return emptyResponse()
	}

	metrics.Batches.WithLabelValues(metrics.StatusSuccess, "").Inc()
	log.Info("batch written",
		zap.Int("processed_count", processed),
		zap.String("output_location", location),
		zap.Duration("elapsed", time.Since(start)))
	return successResponse(processed, location)
}

// runSafely turns a panic anywhere in the flow into a ProcessingError.
func (h *Handler) runSafely(ctx context.Context, src streametl.DataSource, log *zap.Logger) (processed int, location string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			processed, location = 0, ""
			err = &ProcessingError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return h.run(ctx, src, log)
}

func (h *Handler) run(ctx context.Context, src streametl.DataSource, log *zap.Logger) (int, string, error) {
	result, err := h.processor.ProcessSource(ctx, src)
	if err != nil {
		if readers.IsPayloadError(err) {
			return 0, "", &DecodeError{Err: err}
		}
		return 0, "", &ProcessingError{Err: eris.Wrap(err, "run pipeline")}
	}

	log.Debug("batch processed",
		zap.Int("received", result.Received),
		zap.Int("valid", len(result.Records)),
		zap.Int("dropped", result.Dropped),
		zap.Int("decode_failures", result.DecodeFailures))

	if len(result.Records) == 0 {
		return 0, "", nil
	}

	if summary, err := aggregate.Summarize(ctx, result.Records); err == nil {
		log.Info("batch summary", zap.Object("summary", summary))
	}

	key := output.ObjectKey(h.keyPrefix, h.now(), h.format)
	spec := output.SinkSpec{
		Key:    key,
		Format: h.format,
		Fields: writers.UnionHeaders(result.Records,
			schema.TransactionSchema().RequiredFields,
			h.processor.Enricher().Fields()),
	}

	if err := h.write(ctx, h.output, "primary", spec, result.Records); err != nil {
		return 0, "", err
	}
	for _, mirror := range h.mirrors {
		if err := h.write(ctx, mirror, "mirror", spec, result.Records); err != nil {
			return 0, "", err
		}
	}

	return len(result.Records), h.output.URI(key), nil
}

// write copies records into one sink of loc. The object exists once the sink closes.
func (h *Handler) write(ctx context.Context, loc output.Location, role string, spec output.SinkSpec, records []streametl.Record) error {
	start := time.Now()
	uri := loc.URI(spec.Key)

	sink, err := loc.NewSink(ctx, spec)
	if err != nil {
		return &StorageError{Location: uri, Err: eris.Wrap(err, "open sink")}
	}

	pipeline, err := streametl.NewPipeline().
		From(readers.NewSliceReader(records)).
		To(sink).
		WithErrorStrategy(streametl.FailFast).
		Build()
	if err != nil {
		sink.Close()
		return &StorageError{Location: uri, Err: err}
	}

	if err := pipeline.Execute(ctx); err != nil {
		return &StorageError{Location: uri, Err: err}
	}

	metrics.WriteDuration.WithLabelValues(role).Observe(float64(time.Since(start).Milliseconds()))
	return nil
}
