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

package schema

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts lists the accepted ISO-8601 shapes: a date, optionally followed by a
// 'T' or ' ' separated time of hour, minute or second precision, optionally followed by a
// numeric UTC offset. Fractional seconds are accepted by time.Parse after the seconds field.
var timestampLayouts = buildTimestampLayouts()

func buildTimestampLayouts() []string {
	layouts := []string{"2006-01-02"}
	for _, sep := range []string{"T", " "} {
		for _, clock := range []string{"15:04:05", "15:04", "15"} {
			for _, offset := range []string{"", "-07:00"} {
				layouts = append(layouts, "2006-01-02"+sep+clock+offset)
			}
		}
	}
	return layouts
}

// ParseTimestamp parses an ISO-8601 date-time. A trailing "Z" is read as "+00:00".
// Values without an offset are interpreted as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	normalized := value
	if strings.HasSuffix(normalized, "Z") {
		normalized = strings.TrimSuffix(normalized, "Z") + "+00:00"
	}

	// The "15" layout element also accepts a one-digit hour; ISO-8601 requires two.
	if len(normalized) > len("2006-01-02") && !twoDigitHour(normalized) {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", value)
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", value)
}

// twoDigitHour reports whether the two bytes after the date/time separator are digits.
func twoDigitHour(value string) bool {
	const hour = len("2006-01-02T")
	if len(value) < hour+2 {
		return false
	}
	return isDigit(value[hour]) && isDigit(value[hour+1])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
