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

package readers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aaronlmathis/streametl"
)

// Package readers provides implementations of streametl.DataSource for the record sources a
// batch can come from: Lambda Kinesis events, Kinesis shards, JSON-lines files and S3 objects.

// PayloadError reports a single payload that could not be decoded into a record.
// Readers that return it can keep reading; the next call moves past the bad payload.
type PayloadError struct {
	Source   string // Reader kind, e.g. "kinesis_event", "jsonl"
	Position int    // Zero-based position of the payload within the source
	Err      error  // Underlying decode error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s payload %d: %v", e.Source, e.Position, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// IsPayloadError reports whether err is, or wraps, a *PayloadError.
func IsPayloadError(err error) bool {
	var perr *PayloadError
	return errors.As(err, &perr)
}

// DecodeRecord decodes one JSON payload into a Record. The payload must be a JSON object.
func DecodeRecord(data []byte) (streametl.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("payload is not a JSON object")
	}

	var record streametl.Record
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// JSONReaderStats holds statistics about the JSON reader.
type JSONReaderStats struct {
	LinesRead    int64
	RecordsRead  int64
	DecodeErrors int64
}

// JSONReader implements DataSource for JSON lines files
type JSONReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	stopped bool
	stats   JSONReaderStats
}

// maxJSONLineSize bounds a single JSON line.
const maxJSONLineSize = 4 * 1024 * 1024

// NewJSONReader creates a new JSON reader for line-delimited JSON
func NewJSONReader(r io.ReadCloser) *JSONReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLineSize)
	return &JSONReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read implements the DataSource interface. Blank lines are skipped.
func (j *JSONReader) Read(ctx context.Context) (streametl.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if j.stopped || !j.scanner.Scan() {
			err := j.scanner.Err()
			switch {
			case j.stopped || err == nil:
				return nil, io.EOF
			case errors.Is(err, bufio.ErrTooLong):
				// The scanner cannot resume past an oversized line.
				j.stopped = true
				j.stats.DecodeErrors++
				return nil, &PayloadError{Source: "jsonl", Position: j.line, Err: err}
			default:
				return nil, err
			}
		}

		position := j.line
		j.line++
		j.stats.LinesRead++

		line := j.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		record, err := DecodeRecord(line)
		if err != nil {
			j.stats.DecodeErrors++
			return nil, &PayloadError{Source: "jsonl", Position: position, Err: err}
		}
		j.stats.RecordsRead++
		return record, nil
	}
}

// Stats returns reader statistics.
func (j *JSONReader) Stats() JSONReaderStats {
	return j.stats
}

// Close implements the DataSource interface
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
