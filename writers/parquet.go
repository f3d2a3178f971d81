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

package writers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/streametl"
)

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "schema", "write_batch", "close_writer")
	Err error  // Underlying error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize    int64                // Number of records to buffer before writing a row group
	Compression  compress.Compression // Compression algorithm
	FieldOrder   []string             // Explicit column order
	RowGroupSize int64                // Max rows per row group
	Metadata     map[string]string    // File metadata
}

// ParquetWriterStats holds statistics about the Parquet writer's performance.
type ParquetWriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records to buffer before writing a batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithFieldOrder sets the column order of the Parquet schema.
func WithFieldOrder(fields []string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.FieldOrder = append([]string(nil), fields...)
	}
}

// WithRowGroupSize sets the row group size for the Parquet file.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata sets key/value metadata stored in the Parquet schema.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// onceCloser lets both pqarrow and the ParquetWriter close the sink.
type onceCloser struct {
	io.Writer
	closer io.Closer
	once   sync.Once
	err    error
}

func (o *onceCloser) Close() error {
	o.once.Do(func() { o.err = o.closer.Close() })
	return o.err
}

func (o *onceCloser) Abort() error {
	o.once.Do(func() { o.err = abortOrClose(o.closer) })
	return o.err
}

// ParquetWriter implements streametl.DataSink for Parquet output to any io.WriteCloser.
// The schema is inferred from the first batch: each column takes the type of its non-null
// values. Integers mixed with floats make a float column; any other mix, or no value at
// all, makes a string column. A later value that does not fit its column fails the batch.
type ParquetWriter struct {
	sink         *onceCloser
	writer       *pqarrow.FileWriter
	schema       *arrow.Schema
	fieldOrder   []string
	recordBuffer []streametl.Record
	stats        ParquetWriterStats
	allocator    memory.Allocator
	opts         ParquetWriterOptions
	closed       bool
	errorState   bool
	mu           sync.Mutex
}

// NewParquetWriter creates a Parquet writer over w. Closing the writer closes w.
func NewParquetWriter(w io.WriteCloser, options ...WriterOption) (*ParquetWriter, error) {
	if w == nil {
		return nil, &ParquetWriterError{Op: "validate_options", Err: fmt.Errorf("writer is required")}
	}

	opts := ParquetWriterOptions{
		BatchSize:    1000,
		Compression:  compress.Codecs.Snappy,
		RowGroupSize: 10000,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	return &ParquetWriter{
		sink:         &onceCloser{Writer: w, closer: w},
		fieldOrder:   opts.FieldOrder,
		recordBuffer: make([]streametl.Record, 0, opts.BatchSize),
		stats:        ParquetWriterStats{NullValueCounts: make(map[string]int64)},
		allocator:    memory.NewGoAllocator(),
		opts:         opts,
	}, nil
}

// Write implements the streametl.DataSink interface.
func (p *ParquetWriter) Write(ctx context.Context, record streametl.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	p.recordBuffer = append(p.recordBuffer, record)
	p.stats.RecordsWritten++

	if int64(len(p.recordBuffer)) >= p.opts.BatchSize {
		if err := p.flushBatchUnsafe(); err != nil {
			p.errorState = true
			return err
		}
	}
	return nil
}

// Flush implements the streametl.DataSink interface.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.flushBatchUnsafe()
}

// Close implements the streametl.DataSink interface. It writes the file footer and
// closes the underlying writer.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.flushBatchUnsafe(); err != nil {
		p.sink.Close()
		return err
	}

	// A writer with a known column order still produces a valid, empty file.
	if p.writer == nil && len(p.fieldOrder) > 0 {
		if err := p.initializeSchemaUnsafe(nil); err != nil {
			p.sink.Close()
			return err
		}
	}

	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			p.sink.Close()
			return &ParquetWriterError{Op: "close_writer", Err: err}
		}
		p.writer = nil
	}

	if err := p.sink.Close(); err != nil {
		return &ParquetWriterError{Op: "close", Err: err}
	}
	return nil
}

// Abort implements streametl.Aborter. The footer is never written and the underlying
// writer is aborted, or closed if it cannot abort.
func (p *ParquetWriter) Abort() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.recordBuffer = nil
	p.writer = nil

	if err := p.sink.Abort(); err != nil {
		return &ParquetWriterError{Op: "abort", Err: err}
	}
	return nil
}

// Stats returns the current statistics of the Parquet writer.
func (p *ParquetWriter) Stats() ParquetWriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Schema returns the inferred Arrow schema, or nil before the first batch.
func (p *ParquetWriter) Schema() *arrow.Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schema
}

// initializeSchemaUnsafe builds the schema and file writer from the first batch.
func (p *ParquetWriter) initializeSchemaUnsafe(records []streametl.Record) error {
	if len(p.fieldOrder) == 0 {
		p.fieldOrder = UnionHeaders(records, nil, nil)
	}

	fields := make([]arrow.Field, 0, len(p.fieldOrder))
	for _, name := range p.fieldOrder {
		fields = append(fields, arrow.Field{
			Name:     name,
			Type:     columnType(records, name),
			Nullable: true,
		})
	}

	var md *arrow.Metadata
	if len(p.opts.Metadata) > 0 {
		m := arrow.MetadataFrom(p.opts.Metadata)
		md = &m
	}
	p.schema = arrow.NewSchema(fields, md)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
	)
	writer, err := pqarrow.NewFileWriter(p.schema, p.sink, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return &ParquetWriterError{Op: "create_writer", Err: err}
	}
	p.writer = writer
	return nil
}

// columnType infers the Arrow type of a column from every non-null value in records.
func columnType(records []streametl.Record, name string) arrow.DataType {
	var current arrow.DataType
	for _, record := range records {
		v, ok := record[name]
		if !ok || v == nil {
			continue
		}
		t := inferArrowType(v)
		switch {
		case current == nil:
			current = t
		case arrow.TypeEqual(current, t):
		case isNumeric(current) && isNumeric(t):
			current = arrow.PrimitiveTypes.Float64
		default:
			return arrow.BinaryTypes.String
		}
	}
	if current == nil {
		return arrow.BinaryTypes.String
	}
	return current
}

func isNumeric(t arrow.DataType) bool {
	return t.ID() == arrow.INT64 || t.ID() == arrow.FLOAT64
}

// inferArrowType maps a Go value to an Arrow type. Anything not numeric, boolean or a
// time is stored as a string.
func inferArrowType(value interface{}) arrow.DataType {
	switch value.(type) {
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case int, int8, int16, int32, int64:
		return arrow.PrimitiveTypes.Int64
	case float32, float64, json.Number:
		return arrow.PrimitiveTypes.Float64
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// flushBatchUnsafe writes the buffered records as one Arrow record batch (must hold mutex).
func (p *ParquetWriter) flushBatchUnsafe() error {
	if len(p.recordBuffer) == 0 {
		return nil
	}

	start := time.Now()

	if p.writer == nil {
		if err := p.initializeSchemaUnsafe(p.recordBuffer); err != nil {
			return &ParquetWriterError{Op: "schema", Err: err}
		}
	}

	builder := array.NewRecordBuilder(p.allocator, p.schema)
	defer builder.Release()

	nulls := make(map[string]int64)
	for _, record := range p.recordBuffer {
		for i, name := range p.fieldOrder {
			written, err := appendValue(builder.Field(i), record[name])
			if err != nil {
				return &ParquetWriterError{Op: "write_batch", Err: fmt.Errorf("column %q: %w", name, err)}
			}
			if !written {
				nulls[name]++
			}
		}
	}

	batch := builder.NewRecord()
	defer batch.Release()

	if err := p.writer.Write(batch); err != nil {
		return &ParquetWriterError{Op: "write_batch", Err: err}
	}

	for name, n := range nulls {
		p.stats.NullValueCounts[name] += n
	}
	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	p.recordBuffer = p.recordBuffer[:0]
	return nil
}

// appendValue appends value to the column builder and reports whether a non-null value
// was written. A value that does not fit the column type is an error.
func appendValue(builder array.Builder, value interface{}) (bool, error) {
	if value == nil {
		builder.AppendNull()
		return false, nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		if v, ok := value.(bool); ok {
			b.Append(v)
			return true, nil
		}
	case *array.Int64Builder:
		switch v := value.(type) {
		case int:
			b.Append(int64(v))
			return true, nil
		case int8:
			b.Append(int64(v))
			return true, nil
		case int16:
			b.Append(int64(v))
			return true, nil
		case int32:
			b.Append(int64(v))
			return true, nil
		case int64:
			b.Append(v)
			return true, nil
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
			return true, nil
		case float32:
			b.Append(float64(v))
			return true, nil
		case int:
			b.Append(float64(v))
			return true, nil
		case int8:
			b.Append(float64(v))
			return true, nil
		case int16:
			b.Append(float64(v))
			return true, nil
		case int32:
			b.Append(float64(v))
			return true, nil
		case int64:
			b.Append(float64(v))
			return true, nil
		case json.Number:
			if f, err := v.Float64(); err == nil {
				b.Append(f)
				return true, nil
			}
		}
	case *array.TimestampBuilder:
		if v, ok := value.(time.Time); ok {
			b.Append(arrow.Timestamp(v.UnixMicro()))
			return true, nil
		}
	case *array.StringBuilder:
		b.Append(FormatValue(value))
		return true, nil
	}

	return false, fmt.Errorf("%T value does not fit %s column", value, builder.Type())
}
