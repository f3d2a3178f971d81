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

package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/enrich"
	"github.com/aaronlmathis/streametl/output"
	"github.com/aaronlmathis/streametl/processor"
)

type fakeUploader struct {
	mu     sync.Mutex
	keys   []string
	bodies []string
	err    error
	bucket string
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
	f.bucket = aws.ToString(input.Bucket)
	f.keys = append(f.keys, aws.ToString(input.Key))
	f.bodies = append(f.bodies, string(body))
	return &manager.UploadOutput{}, nil
}

// recordingLocation collects records per sink, optionally failing or panicking.
type recordingLocation struct {
	sink    *memorySink
	openErr error
	panics  bool
}

type memorySink struct {
	records []streametl.Record
	closed  bool
}

func (m *memorySink) Write(ctx context.Context, r streametl.Record) error {
	m.records = append(m.records, r)
	return nil
}
func (m *memorySink) Flush() error { return nil }
func (m *memorySink) Close() error { m.closed = true; return nil }

func (r *recordingLocation) NewSink(ctx context.Context, spec output.SinkSpec) (streametl.DataSink, error) {
	if r.panics {
		panic("sink exploded")
	}
	if r.openErr != nil {
		return nil, r.openErr
	}
	r.sink = &memorySink{}
	return r.sink, nil
}

func (r *recordingLocation) URI(key string) string { return "mem://" + key }

var (
	handlerNow  = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	enrichNow   = time.Date(2024, 5, 6, 7, 8, 9, 654321000, time.UTC)
	validTxn    = `{"id":"123","timestamp":"2023-01-01T12:00:00Z","amount":100.5,"customer_id":"CUST123"}`
	validTxnTwo = `{"id":"124","timestamp":"2023-01-01 13:00","amount":7,"customer_id":"CUST9","channel":"web"}`
	invalidTxn  = `{"id":"125","timestamp":"invalid_date","amount":1,"customer_id":"C"}`
)

func event(payloads ...string) events.KinesisEvent {
	var e events.KinesisEvent
	for _, p := range payloads {
		e.Records = append(e.Records, events.KinesisEventRecord{Kinesis: events.KinesisRecord{Data: []byte(p)}})
	}
	return e
}

func newTestHandler(t *testing.T, up *fakeUploader, policy processor.DecodePolicy, opts ...Option) *Handler {
	t.Helper()
	proc := processor.New(
		processor.WithEnricher(enrich.New(enrich.WithClock(func() time.Time { return enrichNow }))),
		processor.WithDecodePolicy(policy),
		processor.WithLogger(zap.NewNop()),
	)
	base := []Option{
		WithOutput(&output.S3Location{Bucket: "processed-bucket", Uploader: up}),
		WithProcessor(proc),
		WithClock(func() time.Time { return handlerNow }),
		WithLogger(zap.NewNop()),
	}
	h, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return h
}

func decode(t *testing.T, resp Response) ResponseBody {
	t.Helper()
	body, err := resp.DecodeBody()
	require.NoError(t, err)
	return body
}

func TestHandle_EmptyBatch(t *testing.T) {
	up := &fakeUploader{}
	h := newTestHandler(t, up, processor.FailBatch)

	resp, err := h.Handle(context.Background(), event())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"No valid records to process","processed_count":0}`, resp.Body)
	assert.Empty(t, up.keys)
}

func TestHandle_AllInvalid(t *testing.T) {
	up := &fakeUploader{}
	h := newTestHandler(t, up, processor.FailBatch)

	resp, err := h.Handle(context.Background(), event(invalidTxn, `{"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, *decode(t, resp).ProcessedCount)
	assert.Empty(t, up.keys)
}

func TestHandle_ValidBatch(t *testing.T) {
	up := &fakeUploader{}
	h := newTestHandler(t, up, processor.FailBatch)

	resp, err := h.Handle(context.Background(), event(validTxn, invalidTxn, validTxnTwo))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{
		"message": "Successfully processed records",
		"processed_count": 2,
		"output_location": "s3://processed-bucket/processed/data-20240506-070809.csv"
	}`, resp.Body)

	require.Len(t, up.keys, 1)
	assert.Equal(t, "processed-bucket", up.bucket)
	assert.Equal(t, "processed/data-20240506-070809.csv", up.keys[0])

	rows, err := csv.NewReader(strings.NewReader(up.bodies[0])).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"id", "timestamp", "amount", "customer_id", "channel", "processed_at", "source", "version"},
		{"123", "2023-01-01T12:00:00Z", "100.5", "CUST123", "", "2024-05-06T07:08:09.654321", "raw_data_bucket", "1.0"},
		{"124", "2023-01-01 13:00", "7", "CUST9", "web", "2024-05-06T07:08:09.654321", "raw_data_bucket", "1.0"},
	}, rows)
}

func TestHandle_DecodeFailure(t *testing.T) {
	t.Run("fail batch", func(t *testing.T) {
		up := &fakeUploader{}
		h := newTestHandler(t, up, processor.FailBatch)

		resp, err := h.Handle(context.Background(), event(validTxn, `{broken`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decode(t, resp)
		assert.Equal(t, "Error processing records", body.Message)
		assert.Equal(t, KindDecode, body.ErrorKind)
		assert.NotEmpty(t, body.Error)
		assert.Empty(t, up.keys)
	})

	t.Run("skip record", func(t *testing.T) {
		up := &fakeUploader{}
		h := newTestHandler(t, up, processor.SkipRecord)

		resp, err := h.Handle(context.Background(), event(validTxn, `{broken`, `null`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, *decode(t, resp).ProcessedCount)
		assert.Len(t, up.keys, 1)
	})
}

func TestHandle_UploadFailure(t *testing.T) {
	up := &fakeUploader{err: errors.New("AccessDenied")}
	h := newTestHandler(t, up, processor.FailBatch)

	resp, err := h.Handle(context.Background(), event(validTxn))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, KindStorage, body.ErrorKind)
	assert.Contains(t, body.Error, "AccessDenied")
	assert.Nil(t, body.ProcessedCount)
}

func TestHandle_Mirrors(t *testing.T) {
	up := &fakeUploader{}
	mirror := &recordingLocation{}
	h := newTestHandler(t, up, processor.FailBatch, WithMirrors(mirror))

	resp, err := h.Handle(context.Background(), event(validTxn, validTxnTwo))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, mirror.sink)
	assert.Len(t, mirror.sink.records, 2)
	assert.True(t, mirror.sink.closed)

	failing := &recordingLocation{openErr: errors.New("connection refused")}
	h = newTestHandler(t, &fakeUploader{}, processor.FailBatch, WithMirrors(failing))
	resp, _ = h.Handle(context.Background(), event(validTxn))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandle_PanicIsProcessingError(t *testing.T) {
	h, err := New(
		WithOutput(&recordingLocation{panics: true}),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), event(validTxn))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, KindProcessing, decode(t, resp).ErrorKind)
}

func TestHandle_CancelledContext(t *testing.T) {
	h := newTestHandler(t, &fakeUploader{}, processor.FailBatch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := h.Handle(ctx, event(validTxn))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, KindProcessing, decode(t, resp).ErrorKind)
}

func TestNew_RequiresOutput(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		kind   ErrorKind
		status int
	}{
		{&DecodeError{Err: errors.New("x")}, KindDecode, 400},
		{&ProcessingError{Err: errors.New("x")}, KindProcessing, 500},
		{&StorageError{Location: "s3://b/k", Err: errors.New("x")}, KindStorage, 502},
		{errors.New("unknown"), KindProcessing, 500},
	}
	for _, tt := range tests {
		kind, status := Classify(tt.err)
		assert.Equal(t, tt.kind, kind, tt.err.Error())
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
