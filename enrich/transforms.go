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
)

// Package enrich provides the record enrichment step and the small field transformers it is built from.
//
// All functions return streametl.Transformer implementations. Every transformer copies the
// incoming record and never mutates it.

// AddField creates a transformer that adds a new field with a computed value to each record.
// The value is computed by the provided function, which receives the current record.
func AddField(field string, fn func(streametl.Record) interface{}) streametl.Transformer {
	return streametl.TransformFunc(func(ctx context.Context, record streametl.Record) (streametl.Record, error) {
		result := record.Clone()
		result[field] = fn(record)
		return result, nil
	})
}

// SetConstant creates a transformer that sets a field to a fixed value.
func SetConstant(field string, value interface{}) streametl.Transformer {
	return AddField(field, func(streametl.Record) interface{} { return value })
}

// AddTimestamp creates a transformer that stamps a field with the clock's current UTC time
// formatted with layout.
func AddTimestamp(field, layout string, now func() time.Time) streametl.Transformer {
	return AddField(field, func(streametl.Record) interface{} {
		return now().UTC().Format(layout)
	})
}

// Chain composes transformers into one, applied in order.
func Chain(transformers ...streametl.Transformer) streametl.Transformer {
	return streametl.TransformFunc(func(ctx context.Context, record streametl.Record) (streametl.Record, error) {
		current := record
		for _, t := range transformers {
			next, err := t.Transform(ctx, current)
			if err != nil {
				return nil, err
			}
			current = next
		}
		return current, nil
	})
}
