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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/enrich"
	"github.com/aaronlmathis/streametl/schema"
	"github.com/aaronlmathis/streametl/writers"
)

// Location creates sinks for output objects.
type Location interface {
	// NewSink returns a sink for one object. The object is complete once the sink is
	// closed without error.
	NewSink(ctx context.Context, spec SinkSpec) (streametl.DataSink, error)
	// URI names the object written for key.
	URI(key string) string
}

// Uploader is the subset of manager.Uploader used by S3Location.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Location writes objects to an S3 bucket.
type S3Location struct {
	Bucket   string
	Uploader Uploader
}

// NewS3Location creates an S3 location using a multipart-capable uploader for client.
func NewS3Location(client *s3.Client, bucket string) *S3Location {
	return &S3Location{Bucket: bucket, Uploader: manager.NewUploader(client)}
}

// NewSink returns a sink that buffers the object and uploads it on Close. Aborting the
// sink discards the buffer without uploading.
func (s *S3Location) NewSink(ctx context.Context, spec SinkSpec) (streametl.DataSink, error) {
	if s.Bucket == "" {
		return nil, fmt.Errorf("s3 location: bucket is required")
	}
	if s.Uploader == nil {
		return nil, fmt.Errorf("s3 location: uploader is required")
	}
	return NewWriter(&s3WriteCloser{
		ctx:         ctx,
		uploader:    s.Uploader,
		bucket:      s.Bucket,
		key:         spec.Key,
		contentType: spec.Format.ContentType(),
	}, spec)
}

// URI implements Location.
func (s *S3Location) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key)
}

// s3WriteCloser buffers writes and uploads the buffer once, on the first Close.
type s3WriteCloser struct {
	ctx         context.Context
	uploader    Uploader
	bucket      string
	key         string
	contentType string

	buf  bytes.Buffer
	once sync.Once
	err  error
}

func (s *s3WriteCloser) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *s3WriteCloser) Close() error {
	s.once.Do(func() {
		_, err := s.uploader.Upload(s.ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key),
			Body:        bytes.NewReader(s.buf.Bytes()),
			ContentType: aws.String(s.contentType),
		})
		if err != nil {
			s.err = fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
		}
	})
	return s.err
}

func (s *s3WriteCloser) Abort() error {
	s.once.Do(func() { s.buf.Reset() })
	return nil
}

// FileLocation writes output under a local directory.
type FileLocation struct {
	Dir string
}

// NewSink creates the file, and any parent directories, for spec.Key. Aborting the sink
// removes the partial file.
func (f FileLocation) NewSink(ctx context.Context, spec SinkSpec) (streametl.DataSink, error) {
	path := filepath.Join(f.Dir, filepath.FromSlash(spec.Key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file location: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("file location: %w", err)
	}
	sink, err := NewWriter(&removableFile{File: file}, spec)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return sink, nil
}

// removableFile deletes itself when aborted.
type removableFile struct {
	*os.File
}

func (r *removableFile) Abort() error {
	r.File.Close()
	return os.Remove(r.Name())
}

// URI implements Location.
func (f FileLocation) URI(key string) string {
	return filepath.Join(f.Dir, filepath.FromSlash(key))
}

// WarehouseColumns are the typed columns of the PostgreSQL mirror table. Other fields go
// to the attributes JSONB column.
var WarehouseColumns = []string{
	schema.FieldID, schema.FieldTimestamp, schema.FieldAmount, schema.FieldCustomerID,
	enrich.FieldProcessedAt, enrich.FieldSource, enrich.FieldVersion,
}

// PostgresLocation mirrors records into a PostgreSQL table. Keys and formats do not apply.
type PostgresLocation struct {
	DSN   string
	Table string
}

// NewSink connects and returns a writer that inserts each batch in one transaction,
// creating the table on first use.
func (p PostgresLocation) NewSink(ctx context.Context, spec SinkSpec) (streametl.DataSink, error) {
	return writers.NewPostgresWriter(
		writers.WithPostgresDSN(p.DSN),
		writers.WithTableName(p.Table),
		writers.WithColumns(WarehouseColumns),
		writers.WithExtrasColumn("attributes"),
		writers.WithCreateTable(true),
		writers.WithTransactionMode(true),
	)
}

// URI implements Location.
func (p PostgresLocation) URI(key string) string {
	return "postgres:" + p.Table
}
