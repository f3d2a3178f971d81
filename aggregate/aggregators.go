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
	"encoding/json"
	"fmt"

	"github.com/aaronlmathis/streametl"
)

// CountAggregator counts the number of records
type CountAggregator struct {
	count int
}

func (c *CountAggregator) Add(ctx context.Context, record streametl.Record) error {
	c.count++
	return nil
}

func (c *CountAggregator) Result() (streametl.Record, error) {
	return streametl.Record{"count": c.count}, nil
}

func (c *CountAggregator) Reset() {
	c.count = 0
}

// SumAggregator sums numeric values. Non-numeric values are ignored.
type SumAggregator struct {
	Field string
	sum   float64
}

func (s *SumAggregator) Add(ctx context.Context, record streametl.Record) error {
	if value, exists := record[s.Field]; exists {
		if num, err := convertToFloat64(value); err == nil {
			s.sum += num
		}
	}
	return nil
}

func (s *SumAggregator) Result() (streametl.Record, error) {
	return streametl.Record{"sum": s.sum}, nil
}

func (s *SumAggregator) Reset() {
	s.sum = 0
}

// AvgAggregator calculates average of numeric values
type AvgAggregator struct {
	Field string
	sum   float64
	count int
}

func (a *AvgAggregator) Add(ctx context.Context, record streametl.Record) error {
	if value, exists := record[a.Field]; exists {
		if num, err := convertToFloat64(value); err == nil {
			a.sum += num
			a.count++
		}
	}
	return nil
}

func (a *AvgAggregator) Result() (streametl.Record, error) {
	if a.count == 0 {
		return streametl.Record{"avg": 0.0}, nil
	}
	return streametl.Record{"avg": a.sum / float64(a.count)}, nil
}

func (a *AvgAggregator) Reset() {
	a.sum = 0
	a.count = 0
}

// MinAggregator finds minimum value
type MinAggregator struct {
	Field string
	min   interface{}
	set   bool
}

func (m *MinAggregator) Add(ctx context.Context, record streametl.Record) error {
	if value, exists := record[m.Field]; exists && value != nil {
		if !m.set || compareValues(value, m.min) < 0 {
			m.min = value
			m.set = true
		}
	}
	return nil
}

func (m *MinAggregator) Result() (streametl.Record, error) {
	return streametl.Record{"min": m.min}, nil
}

func (m *MinAggregator) Reset() {
	m.min = nil
	m.set = false
}

// MaxAggregator finds maximum value
type MaxAggregator struct {
	Field string
	max   interface{}
	set   bool
}

func (m *MaxAggregator) Add(ctx context.Context, record streametl.Record) error {
	if value, exists := record[m.Field]; exists && value != nil {
		if !m.set || compareValues(value, m.max) > 0 {
			m.max = value
			m.set = true
		}
	}
	return nil
}

func (m *MaxAggregator) Result() (streametl.Record, error) {
	return streametl.Record{"max": m.max}, nil
}

func (m *MaxAggregator) Reset() {
	m.max = nil
	m.set = false
}

// DistinctAggregator counts distinct non-null values of a field.
type DistinctAggregator struct {
	Field string
	seen  map[string]struct{}
}

func (d *DistinctAggregator) Add(ctx context.Context, record streametl.Record) error {
	value, exists := record[d.Field]
	if !exists || value == nil {
		return nil
	}
	if d.seen == nil {
		d.seen = make(map[string]struct{})
	}
	d.seen[fmt.Sprintf("%T:%v", value, value)] = struct{}{}
	return nil
}

func (d *DistinctAggregator) Result() (streametl.Record, error) {
	return streametl.Record{"distinct": len(d.seen)}, nil
}

func (d *DistinctAggregator) Reset() {
	d.seen = nil
}

// Helper functions
func convertToFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

func compareValues(a, b interface{}) int {
	switch va := a.(type) {
	case int:
		if vb, ok := b.(int); ok {
			return compareOrdered(va, vb)
		}
	case float64:
		if vb, ok := b.(float64); ok {
			return compareOrdered(va, vb)
		}
	case string:
		if vb, ok := b.(string); ok {
			return compareOrdered(va, vb)
		}
	}
	return 0
}

func compareOrdered[T int | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
