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

package output

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/readers"
)

type upload struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, upload{
		bucket:      aws.ToString(input.Bucket),
		key:         aws.ToString(input.Key),
		contentType: aws.ToString(input.ContentType),
		body:        body,
	})
	return &manager.UploadOutput{Key: input.Key}, nil
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 1, 31, 23, 59, 59, 999, time.FixedZone("EST", -5*3600))

	assert.Equal(t, "processed/data-20240201-045959.csv", ObjectKey(DefaultKeyPrefix, now, FormatCSV))
	assert.Equal(t, "out/20240201-045959.parquet", ObjectKey("out/", now, FormatParquet))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"jsonl", FormatJSONL, false},
		{"json", FormatJSONL, false},
		{" parquet ", FormatParquet, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writeAll(t *testing.T, sink streametl.DataSink, records ...streametl.Record) error {
	t.Helper()
	for _, r := range records {
		require.NoError(t, sink.Write(context.Background(), r))
	}
	return sink.Close()
}

func TestS3Location_UploadsOnClose(t *testing.T) {
	up := &fakeUploader{}
	loc := &S3Location{Bucket: "processed", Uploader: up}

	sink, err := loc.NewSink(context.Background(), SinkSpec{
		Key:    "processed/data-20240101-000000.csv",
		Format: FormatCSV,
		Fields: []string{"id", "amount"},
	})
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), streametl.Record{"id": "a", "amount": 1.5}))
	assert.Empty(t, up.uploads, "nothing is uploaded before Close")

	require.NoError(t, sink.Close())
	require.Len(t, up.uploads, 1)
	assert.Equal(t, "processed", up.uploads[0].bucket)
	assert.Equal(t, "processed/data-20240101-000000.csv", up.uploads[0].key)
	assert.Equal(t, "text/csv", up.uploads[0].contentType)
	assert.Equal(t, "id,amount\na,1.5\n", string(up.uploads[0].body))

	assert.Equal(t, "s3://processed/processed/data-20240101-000000.csv", loc.URI("processed/data-20240101-000000.csv"))
}

func TestS3Location_UploadFailure(t *testing.T) {
	up := &fakeUploader{err: errors.New("access denied")}
	loc := &S3Location{Bucket: "processed", Uploader: up}

	sink, err := loc.NewSink(context.Background(), SinkSpec{Key: "k.jsonl", Format: FormatJSONL})
	require.NoError(t, err)

	err = writeAll(t, sink, streametl.Record{"id": "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3Location_Parquet(t *testing.T) {
	up := &fakeUploader{}
	loc := &S3Location{Bucket: "processed", Uploader: up}

	sink, err := loc.NewSink(context.Background(), SinkSpec{Key: "k.parquet", Format: FormatParquet, Fields: []string{"id"}})
	require.NoError(t, err)
	require.NoError(t, writeAll(t, sink, streametl.Record{"id": "a"}))

	require.Len(t, up.uploads, 1)
	body := up.uploads[0].body
	require.Greater(t, len(body), 8)
	assert.Equal(t, "PAR1", string(body[:4]))
	assert.Equal(t, "PAR1", string(body[len(body)-4:]))
}

func TestS3Location_Validation(t *testing.T) {
	_, err := (&S3Location{Uploader: &fakeUploader{}}).NewSink(context.Background(), SinkSpec{Key: "k"})
	assert.Error(t, err)
	_, err = (&S3Location{Bucket: "b"}).NewSink(context.Background(), SinkSpec{Key: "k"})
	assert.Error(t, err)
}

func TestFileLocation(t *testing.T) {
	dir := t.TempDir()
	loc := FileLocation{Dir: dir}

	sink, err := loc.NewSink(context.Background(), SinkSpec{Key: "processed/data-1.jsonl", Format: FormatJSONL})
	require.NoError(t, err)
	require.NoError(t, writeAll(t, sink, streametl.Record{"id": "a"}, streametl.Record{"id": "b"}))

	path := loc.URI("processed/data-1.jsonl")
	assert.Equal(t, filepath.Join(dir, "processed", "data-1.jsonl"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"a\"}\n{\"id\":\"b\"}\n", string(data))
}

// runFailing streams two records into sink and fails on the second, after the first
// has been written.
func runFailing(t *testing.T, sink streametl.DataSink) {
	t.Helper()
	src := readers.NewSliceReader([]streametl.Record{{"id": "a"}, {"id": "b"}})
	pipeline, err := streametl.NewPipeline().
		From(src).
		Map(func(ctx context.Context, r streametl.Record) (streametl.Record, error) {
			if r["id"] == "b" {
				return nil, errors.New("bad record")
			}
			return r, nil
		}).
		To(sink).
		Build()
	require.NoError(t, err)
	require.Error(t, pipeline.Execute(context.Background()))
}

func TestS3Location_FailedRunDoesNotUpload(t *testing.T) {
	for _, format := range []Format{FormatCSV, FormatJSONL, FormatParquet} {
		up := &fakeUploader{}
		loc := &S3Location{Bucket: "processed", Uploader: up}

		sink, err := loc.NewSink(context.Background(), SinkSpec{Key: "k", Format: format, Fields: []string{"id"}})
		require.NoError(t, err)
		runFailing(t, sink)

		assert.Empty(t, up.uploads, format)
		assert.Error(t, sink.Write(context.Background(), streametl.Record{"id": "c"}), format)
	}
}

func TestFileLocation_FailedRunRemovesFile(t *testing.T) {
	for _, format := range []Format{FormatCSV, FormatJSONL, FormatParquet} {
		loc := FileLocation{Dir: t.TempDir()}

		sink, err := loc.NewSink(context.Background(), SinkSpec{Key: "processed/data-1", Format: format, Fields: []string{"id"}})
		require.NoError(t, err)
		runFailing(t, sink)

		_, err = os.Stat(loc.URI("processed/data-1"))
		assert.True(t, os.IsNotExist(err), format)
	}
}

func TestNewWriter_UnknownFormat(t *testing.T) {
	_, err := NewWriter(nopWriteCloser{}, SinkSpec{Format: "xml"})
	assert.Error(t, err)
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

func TestPostgresLocation_URI(t *testing.T) {
	assert.Equal(t, "postgres:processed_records", PostgresLocation{Table: "processed_records"}.URI("ignored"))
	assert.Contains(t, WarehouseColumns, "processed_at")
}
