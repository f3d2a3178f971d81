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
	"context"
	"io"

	"github.com/aaronlmathis/streametl"
)

// SliceReader implements DataSource over records already in memory.
type SliceReader struct {
	records []streametl.Record
	pos     int
}

// NewSliceReader creates a reader that yields records in order.
func NewSliceReader(records []streametl.Record) *SliceReader {
	return &SliceReader{records: records}
}

// Read implements the DataSource interface.
func (s *SliceReader) Read(ctx context.Context) (streametl.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	record := s.records[s.pos]
	s.pos++
	return record, nil
}

// Close implements the DataSource interface.
func (s *SliceReader) Close() error {
	return nil
}
