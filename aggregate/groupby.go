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
	"fmt"
	"sort"
	"strings"

	"github.com/aaronlmathis/streametl"
)

// GroupBy aggregates records per distinct combination of group field values. With no
// group fields every record falls into a single group.
type GroupBy struct {
	groupFields []string
	outputs     []string
	aggregators map[string]func() streametl.Aggregator
}

// NewGroupBy creates a new GroupBy aggregator
func NewGroupBy(groupFields ...string) *GroupBy {
	return &GroupBy{
		groupFields: groupFields,
		aggregators: make(map[string]func() streametl.Aggregator),
	}
}

func (g *GroupBy) add(outputField string, factory func() streametl.Aggregator) *GroupBy {
	if _, exists := g.aggregators[outputField]; !exists {
		g.outputs = append(g.outputs, outputField)
	}
	g.aggregators[outputField] = factory
	return g
}

// Count adds a count aggregator for the specified output field
func (g *GroupBy) Count(outputField string) *GroupBy {
	return g.add(outputField, func() streametl.Aggregator { return &CountAggregator{} })
}

// Sum adds a sum aggregator for the specified field
func (g *GroupBy) Sum(field, outputField string) *GroupBy {
	return g.add(outputField, func() streametl.Aggregator { return &SumAggregator{Field: field} })
}

// Avg adds an average aggregator for the specified field
func (g *GroupBy) Avg(field, outputField string) *GroupBy {
	return g.add(outputField, func() streametl.Aggregator { return &AvgAggregator{Field: field} })
}

// Min adds a minimum aggregator for the specified field
func (g *GroupBy) Min(field, outputField string) *GroupBy {
	return g.add(outputField, func() streametl.Aggregator { return &MinAggregator{Field: field} })
}

// Max adds a maximum aggregator for the specified field
func (g *GroupBy) Max(field, outputField string) *GroupBy {
	return g.add(outputField, func() streametl.Aggregator { return &MaxAggregator{Field: field} })
}

// Distinct adds a distinct-count aggregator for the specified field
func (g *GroupBy) Distinct(field, outputField string) *GroupBy {
	return g.add(outputField, func() streametl.Aggregator { return &DistinctAggregator{Field: field} })
}

// Custom adds an aggregator built by factory, one instance per group.
func (g *GroupBy) Custom(outputField string, factory func() streametl.Aggregator) *GroupBy {
	return g.add(outputField, factory)
}

type group struct {
	values      streametl.Record
	aggregators map[string]streametl.Aggregator
}

// Process aggregates records until the channel is closed and returns one record per
// group, ordered by group key. Each result carries the group field values and one field
// per configured output.
func (g *GroupBy) Process(ctx context.Context, records <-chan streametl.Record) ([]streametl.Record, error) {
	groups := make(map[string]*group)

	for {
		var record streametl.Record
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case record, ok = <-records:
		}
		if !ok {
			break
		}

		key := g.buildGroupKey(record)
		grp, exists := groups[key]
		if !exists {
			grp = &group{
				values:      make(streametl.Record, len(g.groupFields)),
				aggregators: make(map[string]streametl.Aggregator, len(g.aggregators)),
			}
			for _, field := range g.groupFields {
				grp.values[field] = record[field]
			}
			for outputField, factory := range g.aggregators {
				grp.aggregators[outputField] = factory()
			}
			groups[key] = grp
		}

		for outputField, aggregator := range grp.aggregators {
			if err := aggregator.Add(ctx, record); err != nil {
				return nil, fmt.Errorf("aggregation error for field %s: %w", outputField, err)
			}
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	results := make([]streametl.Record, 0, len(keys))
	for _, key := range keys {
		grp := groups[key]
		result := grp.values.Clone()
		for _, outputField := range g.outputs {
			value, err := grp.aggregators[outputField].Result()
			if err != nil {
				return nil, fmt.Errorf("failed to get result for field %s: %w", outputField, err)
			}
			result[outputField] = singleValue(value)
		}
		results = append(results, result)
	}

	return results, nil
}

// ProcessSlice is Process over an in-memory batch.
func (g *GroupBy) ProcessSlice(ctx context.Context, records []streametl.Record) ([]streametl.Record, error) {
	ch := make(chan streametl.Record, len(records))
	for _, record := range records {
		ch <- record
	}
	close(ch)
	return g.Process(ctx, ch)
}

func (g *GroupBy) buildGroupKey(record streametl.Record) string {
	parts := make([]string, len(g.groupFields))
	for i, field := range g.groupFields {
		if value, exists := record[field]; exists && value != nil {
			parts[i] = fmt.Sprintf("%v", value)
		}
	}
	return strings.Join(parts, "\x1f")
}

// singleValue unwraps a one-field aggregator result; larger results are kept as records.
func singleValue(result streametl.Record) interface{} {
	if len(result) != 1 {
		return result
	}
	for _, v := range result {
		return v
	}
	return nil
}
