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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aaronlmathis/streametl"
)

// JSONWriterStats holds JSON lines write statistics.
type JSONWriterStats struct {
	RecordsWritten int64
	BytesWritten   int64
}

// JSONWriter implements DataSink for JSON lines files
type JSONWriter struct {
	writer *bufio.Writer
	closer io.Closer
	stats  JSONWriterStats
	closed bool
	mu     sync.Mutex
}

// NewJSONWriter creates a new JSON writer for line-delimited JSON output
func NewJSONWriter(w io.WriteCloser) *JSONWriter {
	return &JSONWriter{
		writer: bufio.NewWriter(w),
		closer: w,
	}
}

// Write implements the DataSink interface
func (j *JSONWriter) Write(ctx context.Context, record streametl.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("json writer is closed")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record to JSON: %w", err)
	}

	data = append(data, '\n')
	n, err := j.writer.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write JSON data: %w", err)
	}

	j.stats.RecordsWritten++
	j.stats.BytesWritten += int64(n)
	return nil
}

// Flush implements the DataSink interface
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush JSON writer: %w", err)
	}
	return nil
}

// Close implements the DataSink interface
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush JSON writer: %w", err)
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// Abort implements streametl.Aborter. Buffered output is dropped.
func (j *JSONWriter) Abort() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	j.writer.Reset(io.Discard)
	return abortOrClose(j.closer)
}

// Stats returns write statistics.
func (j *JSONWriter) Stats() JSONWriterStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}
