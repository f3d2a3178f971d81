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
	"bytes"
	"context"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/streametl"
)

type bufferCloser struct {
	bytes.Buffer
	closeCalls int
}

func (b *bufferCloser) Close() error {
	b.closeCalls++
	return nil
}

func readParquet(t *testing.T, data []byte) arrow.Table {
	t.Helper()
	mem := memory.NewGoAllocator()
	table, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	require.NoError(t, err)
	return table
}

func TestParquetWriter_BasicFunctionality(t *testing.T) {
	buf := &bufferCloser{}
	writer, err := NewParquetWriter(buf, WithFieldOrder([]string{"id", "amount", "flag", "note"}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, streametl.Record{"id": "a", "amount": 1.5, "flag": true, "note": "x"}))
	require.NoError(t, writer.Write(ctx, streametl.Record{"id": "b", "amount": 2.0}))
	require.NoError(t, writer.Write(ctx, streametl.Record{"id": "c", "amount": 3.25, "flag": false, "note": nil}))
	require.NoError(t, writer.Close())

	assert.Equal(t, 1, buf.closeCalls)

	table := readParquet(t, buf.Bytes())
	defer table.Release()

	assert.Equal(t, int64(3), table.NumRows())
	require.Equal(t, 4, int(table.NumCols()))

	schema := table.Schema()
	assert.Equal(t, "id", schema.Field(0).Name)
	assert.Equal(t, arrow.STRING, schema.Field(0).Type.ID())
	assert.Equal(t, arrow.FLOAT64, schema.Field(1).Type.ID())
	assert.Equal(t, arrow.BOOL, schema.Field(2).Type.ID())

	amounts := table.Column(1).Data().Chunk(0).(*array.Float64)
	assert.Equal(t, []float64{1.5, 2.0, 3.25}, amounts.Float64Values())

	stats := writer.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(2), stats.NullValueCounts["note"])
	assert.Equal(t, int64(1), stats.NullValueCounts["flag"])
}

func TestParquetWriter_InfersColumnsWithoutOrder(t *testing.T) {
	buf := &bufferCloser{}
	writer, err := NewParquetWriter(buf, WithCompression(compress.Codecs.Uncompressed))
	require.NoError(t, err)

	require.NoError(t, writer.Write(context.Background(), streametl.Record{"b": 1.0, "a": "x"}))
	require.NoError(t, writer.Close())

	schema := writer.Schema()
	require.NotNil(t, schema)
	assert.Equal(t, "a", schema.Field(0).Name)
	assert.Equal(t, "b", schema.Field(1).Name)

	table := readParquet(t, buf.Bytes())
	defer table.Release()
	assert.Equal(t, int64(1), table.NumRows())
}

func TestParquetWriter_BatchProcessing(t *testing.T) {
	buf := &bufferCloser{}
	writer, err := NewParquetWriter(buf, WithBatchSize(2), WithFieldOrder([]string{"n"}))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, writer.Write(ctx, streametl.Record{"n": float64(i)}))
	}
	assert.Equal(t, int64(2), writer.Stats().BatchesWritten)
	require.NoError(t, writer.Close())
	assert.Equal(t, int64(3), writer.Stats().BatchesWritten)

	table := readParquet(t, buf.Bytes())
	defer table.Release()
	assert.Equal(t, int64(5), table.NumRows())
}

func TestParquetWriter_EmptyWithFieldOrder(t *testing.T) {
	buf := &bufferCloser{}
	writer, err := NewParquetWriter(buf, WithFieldOrder([]string{"id", "amount"}))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	table := readParquet(t, buf.Bytes())
	defer table.Release()
	assert.Equal(t, int64(0), table.NumRows())
	assert.Equal(t, 2, int(table.NumCols()))
}

func TestParquetWriter_MixedTypesWidenToString(t *testing.T) {
	buf := &bufferCloser{}
	writer, err := NewParquetWriter(buf, WithFieldOrder([]string{"note", "amount"}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, streametl.Record{"note": 7.0, "amount": 1}))
	require.NoError(t, writer.Write(ctx, streametl.Record{"note": "hello", "amount": 2.5}))
	require.NoError(t, writer.Close())

	schema := writer.Schema()
	assert.Equal(t, arrow.STRING, schema.Field(0).Type.ID())
	assert.Equal(t, arrow.FLOAT64, schema.Field(1).Type.ID())
	assert.Zero(t, writer.Stats().NullValueCounts["note"])

	table := readParquet(t, buf.Bytes())
	defer table.Release()
	notes := table.Column(0).Data().Chunk(0).(*array.String)
	assert.Equal(t, "7", notes.Value(0))
	assert.Equal(t, "hello", notes.Value(1))
	amounts := table.Column(1).Data().Chunk(0).(*array.Float64)
	assert.Equal(t, []float64{1, 2.5}, amounts.Float64Values())
}

func TestParquetWriter_MismatchAfterSchemaFails(t *testing.T) {
	buf := &bufferCloser{}
	writer, err := NewParquetWriter(buf, WithBatchSize(1), WithFieldOrder([]string{"note"}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, streametl.Record{"note": 7.0}))

	err = writer.Write(ctx, streametl.Record{"note": "hello"})
	var pqErr *ParquetWriterError
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, "write_batch", pqErr.Op)
	assert.Contains(t, err.Error(), `"note"`)

	assert.Error(t, writer.Write(ctx, streametl.Record{"note": 8.0}))
}

func TestParquetWriter_ErrorHandling(t *testing.T) {
	_, err := NewParquetWriter(nil)
	var pqErr *ParquetWriterError
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, "validate_options", pqErr.Op)

	buf := &bufferCloser{}
	writer, err := NewParquetWriter(buf)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Error(t, writer.Write(context.Background(), streametl.Record{"a": 1}))
	assert.NoError(t, writer.Close())
	assert.Equal(t, 1, buf.closeCalls)
}
