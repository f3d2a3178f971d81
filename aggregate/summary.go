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

package aggregate

import (
	"context"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/schema"
)

// BatchSummary describes one processed batch.
type BatchSummary struct {
	Records        int
	Customers      int
	AmountTotal    float64
	FirstTimestamp string // timestamp value of the earliest instant
	LastTimestamp  string // timestamp value of the latest instant
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s BatchSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("records", s.Records)
	enc.AddInt("customers", s.Customers)
	enc.AddFloat64("amount_total", s.AmountTotal)
	if s.FirstTimestamp != "" {
		enc.AddString("first_timestamp", s.FirstTimestamp)
		enc.AddString("last_timestamp", s.LastTimestamp)
	}
	return nil
}

// Summarize computes the summary of a processed batch.
func Summarize(ctx context.Context, records []streametl.Record) (BatchSummary, error) {
	var summary BatchSummary
	if len(records) == 0 {
		return summary, nil
	}

	results, err := NewGroupBy().
		Count("records").
		Distinct(schema.FieldCustomerID, "customers").
		Sum(schema.FieldAmount, "amount_total").
		ProcessSlice(ctx, records)
	if err != nil {
		return summary, err
	}

	result := results[0]
	summary.Records, _ = result["records"].(int)
	summary.Customers, _ = result["customers"].(int)
	summary.AmountTotal, _ = result["amount_total"].(float64)
	summary.FirstTimestamp, summary.LastTimestamp = timestampRange(records)
	return summary, nil
}

// timestampRange compares parsed instants so mixed offsets order correctly.
// Values that do not parse are skipped.
func timestampRange(records []streametl.Record) (first, last string) {
	var earliest, latest time.Time
	for _, record := range records {
		raw, ok := record[schema.FieldTimestamp].(string)
		if !ok {
			continue
		}
		ts, err := schema.ParseTimestamp(raw)
		if err != nil {
			continue
		}
		if first == "" || ts.Before(earliest) {
			first, earliest = raw, ts
		}
		if last == "" || ts.After(latest) {
			last, latest = raw, ts
		}
	}
	return first, last
}
