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
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/streametl"
)

// Mock writer shared by the writer tests
type mockWriteCloser struct {
	*strings.Builder
	closed     bool
	closeCalls int
	failWrite  bool
	failClose  bool
	mu         sync.Mutex
}

func (m *mockWriteCloser) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return 0, io.ErrUnexpectedEOF
	}
	return m.Builder.Write(p)
}

func (m *mockWriteCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCalls++
	if m.failClose {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (m *mockWriteCloser) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Builder.String()
}

func (m *mockWriteCloser) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newMockWriteCloser() *mockWriteCloser {
	return &mockWriteCloser{
		Builder: &strings.Builder{},
	}
}

func parseCSV(t *testing.T, output string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
	require.NoError(t, err)
	return rows
}

// TestCSVWriter_BasicFunctionality tests core write operations
func TestCSVWriter_BasicFunctionality(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock)
	require.NoError(t, err)

	ctx := context.Background()
	err = writer.Write(ctx, streametl.Record{
		"id":     "txn-1",
		"amount": 100.5,
		"name":   "John Doe",
	})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"amount", "id", "name"}, rows[0])
	assert.Equal(t, []string{"100.5", "txn-1", "John Doe"}, rows[1])
	assert.True(t, mock.IsClosed())
}

// TestCSVWriter_WithHeaders tests explicit header specification and missing cells
func TestCSVWriter_WithHeaders(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithHeaders([]string{"id", "amount", "note"}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, streametl.Record{"id": "a", "amount": 1.0, "note": "x"}))
	require.NoError(t, writer.Write(ctx, streametl.Record{"id": "b", "amount": 2.25}))
	require.NoError(t, writer.Write(ctx, streametl.Record{"id": "c", "amount": 3.0, "note": nil}))
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Equal(t, [][]string{
		{"id", "amount", "note"},
		{"a", "1", "x"},
		{"b", "2.25", ""},
		{"c", "3", ""},
	}, rows)
	assert.Equal(t, int64(1), writer.Stats().NullValueCounts["note"])
}

func TestCSVWriter_HeaderOnlyWhenEmpty(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithHeaders([]string{"id", "amount"}))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Equal(t, "id,amount\n", mock.String())
}

func TestCSVWriter_CustomDelimiterAndCRLF(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithComma(';'), WithUseCRLF(true), WithHeaders([]string{"a", "b"}))
	require.NoError(t, err)

	require.NoError(t, writer.Write(context.Background(), streametl.Record{"a": "1", "b": "x;y"}))
	require.NoError(t, writer.Close())

	assert.Equal(t, "a;b\r\n1;\"x;y\"\r\n", mock.String())
}

func TestCSVWriter_NoHeaders(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithWriteHeader(false), WithHeaders([]string{"id"}))
	require.NoError(t, err)

	require.NoError(t, writer.Write(context.Background(), streametl.Record{"id": "only"}))
	require.NoError(t, writer.Close())

	assert.Equal(t, "only\n", mock.String())
}

func TestCSVWriter_BatchedWrites(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithCSVBatchSize(2), WithHeaders([]string{"n"}))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, writer.Write(ctx, streametl.Record{"n": i}))
	}

	// Two full batches flushed, one record still buffered.
	assert.Equal(t, int64(2), writer.Stats().FlushCount)
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Len(t, rows, 6)
	assert.Equal(t, int64(5), writer.Stats().RecordsWritten)
}

func TestCSVWriter_ComplexDataTypes(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithHeaders([]string{"flag", "nested", "list", "big"}))
	require.NoError(t, err)

	require.NoError(t, writer.Write(context.Background(), streametl.Record{
		"flag":   true,
		"nested": map[string]interface{}{"k": "v"},
		"list":   []interface{}{1.0, "two"},
		"big":    1e21,
	}))
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Equal(t, []string{"true", `{"k":"v"}`, `[1,"two"]`, "1000000000000000000000"}, rows[1])
}

func TestCSVWriter_ErrorHandling(t *testing.T) {
	t.Run("nil writer", func(t *testing.T) {
		_, err := NewCSVWriter(nil)
		assert.Error(t, err)
	})

	t.Run("write failure surfaces on flush", func(t *testing.T) {
		mock := newMockWriteCloser()
		mock.failWrite = true
		writer, err := NewCSVWriter(mock)
		require.NoError(t, err)

		require.NoError(t, writer.Write(context.Background(), streametl.Record{"id": 1}))
		err = writer.Flush()
		require.Error(t, err)

		var csvErr *CSVWriterError
		assert.ErrorAs(t, err, &csvErr)
	})

	t.Run("close failure", func(t *testing.T) {
		mock := newMockWriteCloser()
		mock.failClose = true
		writer, err := NewCSVWriter(mock)
		require.NoError(t, err)

		err = writer.Close()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("write after close", func(t *testing.T) {
		mock := newMockWriteCloser()
		writer, err := NewCSVWriter(mock)
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		assert.Error(t, writer.Write(context.Background(), streametl.Record{"id": 1}))
		assert.NoError(t, writer.Close())
		assert.Equal(t, 1, mock.closeCalls)
	})
}

func TestCSVWriter_ConcurrentSafety(t *testing.T) {
	mock := newMockWriteCloser()
	writer, err := NewCSVWriter(mock, WithHeaders([]string{"worker", "n"}), WithCSVBatchSize(7))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = writer.Write(context.Background(), streametl.Record{"worker": fmt.Sprint(worker), "n": i})
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, writer.Close())

	rows := parseCSV(t, mock.String())
	assert.Len(t, rows, 101)
}

func BenchmarkCSVWriter_Write(b *testing.B) {
	writer, _ := NewCSVWriter(newMockWriteCloser(), WithHeaders([]string{"id", "amount", "customer_id"}), WithCSVBatchSize(100))
	record := streametl.Record{"id": "txn", "amount": 12.5, "customer_id": "c"}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = writer.Write(ctx, record)
	}
	_ = writer.Close()
}
