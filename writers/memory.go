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
	"sync"

	"github.com/aaronlmathis/streametl"
)

// MemoryWriter implements DataSink by collecting records in memory, in write order.
type MemoryWriter struct {
	records []streametl.Record
	closed  bool
	mu      sync.Mutex
}

// NewMemoryWriter creates an empty collecting sink.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{records: make([]streametl.Record, 0)}
}

func (m *MemoryWriter) Write(ctx context.Context, record streametl.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryWriter) Flush() error {
	return nil
}

func (m *MemoryWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns the collected records. The slice is a copy; the records are shared.
func (m *MemoryWriter) Records() []streametl.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(make([]streametl.Record, 0, len(m.records)), m.records...)
}

// Closed reports whether Close has been called.
func (m *MemoryWriter) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
