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
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/aaronlmathis/streametl"
)

// Package writers provides implementations of streametl.DataSink for the output formats a
// processed batch can be written in.

// UnionHeaders returns the column order for a set of records. The leading names come
// first, then every other field in first-seen order (sorted within each record), then the
// trailing names. Leading and trailing names are included even when no record has them.
func UnionHeaders(records []streametl.Record, leading, trailing []string) []string {
	seen := make(map[string]bool, len(leading)+len(trailing))
	headers := make([]string, 0, len(leading)+len(trailing))

	for _, name := range leading {
		if !seen[name] {
			seen[name] = true
			headers = append(headers, name)
		}
	}
	reserved := make(map[string]bool, len(trailing))
	for _, name := range trailing {
		reserved[name] = true
	}

	for _, record := range records {
		keys := make([]string, 0, len(record))
		for key := range record {
			if !seen[key] && !reserved[key] {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			seen[key] = true
			headers = append(headers, key)
		}
	}

	for _, name := range trailing {
		if !seen[name] {
			seen[name] = true
			headers = append(headers, name)
		}
	}
	return headers
}

// FormatValue renders a record value as text for column-oriented output. Nil is empty;
// maps and slices are rendered as JSON.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
