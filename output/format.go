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

// Package output resolves where and how a processed batch is written: the object key,
// the file format and the destination (S3, local directory, PostgreSQL).
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/writers"
)

// Format is an output file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// DefaultKeyPrefix is the key prefix for processed objects.
const DefaultKeyPrefix = "processed/data-"

// keyTimeLayout renders the write time in object keys.
const keyTimeLayout = "20060102-150405"

// ParseFormat parses a format name, case-insensitively. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSONL, FormatParquet:
		return f, nil
	case "json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	return string(f)
}

// ContentType returns the MIME type stored with uploaded objects.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// ObjectKey returns prefix + now in UTC as YYYYMMDD-HHMMSS + "." + extension, e.g.
// processed/data-20240131-235959.csv. Two batches written in the same second share a key.
func ObjectKey(prefix string, now time.Time, format Format) string {
	return prefix + now.UTC().Format(keyTimeLayout) + "." + format.Extension()
}

// SinkSpec describes one output object.
type SinkSpec struct {
	Key    string   // Object key or relative path
	Format Format   // File format
	Fields []string // Column order for CSV and Parquet
}

// NewWriter wraps w in the writer for spec.Format. Closing the writer closes w.
func NewWriter(w io.WriteCloser, spec SinkSpec) (streametl.DataSink, error) {
	switch spec.Format {
	case FormatCSV, "":
		return writers.NewCSVWriter(w, writers.WithHeaders(spec.Fields))
	case FormatJSONL:
		return writers.NewJSONWriter(w), nil
	case FormatParquet:
		return writers.NewParquetWriter(w, writers.WithFieldOrder(spec.Fields))
	default:
		return nil, fmt.Errorf("unsupported output format %q", spec.Format)
	}
}
