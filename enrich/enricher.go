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

package enrich

import (
	"context"
	"time"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/schema"
)

// Metadata field names added by the Enricher.
const (
	FieldProcessedAt = "processed_at"
	FieldSource      = "source"
	FieldVersion     = "version"
)

// Defaults for the metadata values.
const (
	DefaultSource  = "raw_data_bucket"
	DefaultVersion = "1.0"

	// ProcessedAtLayout is ISO-8601 with microseconds and no UTC offset suffix.
	ProcessedAtLayout = "2006-01-02T15:04:05.000000"
)

// Enricher augments validated records with processing metadata.
type Enricher struct {
	source  string
	version string
	now     func() time.Time
	steps   streametl.Transformer
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithClock sets the clock used for processed_at.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) {
		e.now = now
	}
}

// WithSource sets the source tag.
func WithSource(source string) Option {
	return func(e *Enricher) {
		e.source = source
	}
}

// WithVersion sets the version tag.
func WithVersion(version string) Option {
	return func(e *Enricher) {
		e.version = version
	}
}

// New creates an Enricher with the given options.
func New(opts ...Option) *Enricher {
	e := &Enricher{
		source:  DefaultSource,
		version: DefaultVersion,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.steps = Chain(
		AddTimestamp(FieldProcessedAt, ProcessedAtLayout, e.now),
		SetConstant(FieldSource, e.source),
		SetConstant(FieldVersion, e.version),
	)
	return e
}

// Enrich returns a copy of the validated record with processed_at, source and version added.
// Other fields are left untouched; metadata fields already present are overwritten.
func (e *Enricher) Enrich(v schema.ValidatedRecord) streametl.Record {
	// The steps only copy and set fields, so they cannot fail.
	out, _ := e.steps.Transform(context.Background(), v.Record())
	return out
}

// Fields returns the names of the fields Enrich adds, in output order.
func (e *Enricher) Fields() []string {
	return []string{FieldProcessedAt, FieldSource, FieldVersion}
}

// Transformer returns a streametl.Transformer that checks each record against s and
// enriches the ones that pass. A record that fails is returned with its
// *schema.ValidationError and no output.
func (e *Enricher) Transformer(s *schema.Schema) streametl.Transformer {
	return streametl.TransformFunc(func(ctx context.Context, record streametl.Record) (streametl.Record, error) {
		validated, err := s.Check(record)
		if err != nil {
			return nil, err
		}
		return e.Enrich(validated), nil
	})
}
