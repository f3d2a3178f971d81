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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aaronlmathis/streametl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() streametl.Record {
	return streametl.Record{
		"id":          "123",
		"timestamp":   "2023-01-01T12:00:00Z",
		"amount":      100.50,
		"customer_id": "CUST123",
	}
}

func TestSchema_ValidRecord(t *testing.T) {
	s := TransactionSchema()
	assert.True(t, s.Validate(validRecord()))

	v, err := s.Check(validRecord())
	require.NoError(t, err)
	assert.False(t, v.IsZero())

	txn := v.Transaction()
	assert.Equal(t, "123", txn.ID)
	assert.Equal(t, "CUST123", txn.CustomerID)
	assert.InDelta(t, 100.50, txn.Amount, 1e-9)
	assert.True(t, txn.Timestamp.Equal(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSchema_MissingFields(t *testing.T) {
	s := TransactionSchema()
	for _, field := range []string{"id", "timestamp", "amount", "customer_id"} {
		t.Run(field, func(t *testing.T) {
			record := validRecord()
			delete(record, field)
			assert.False(t, s.Validate(record))

			_, err := s.Check(record)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, field, verr.Field)
		})
	}
}

func TestSchema_TypeMismatches(t *testing.T) {
	s := TransactionSchema()
	tests := []struct {
		name  string
		field string
		value interface{}
	}{
		{"amount as string", "amount", "100.50"},
		{"amount as bool", "amount", true},
		{"amount null", "amount", nil},
		{"id as number", "id", 123.0},
		{"customer_id as number", "customer_id", 42},
		{"timestamp as number", "timestamp", 1672574400},
		{"timestamp unparseable", "timestamp", "invalid_date"},
		{"timestamp empty", "timestamp", ""},
		{"timestamp double zulu", "timestamp", "2023-01-01T12:00:00ZZ"},
		{"timestamp one-digit hour", "timestamp", "2023-01-01T1:00:00Z"},
		{"timestamp one-digit hour no seconds", "timestamp", "2023-01-01T9:05"},
		{"timestamp one-digit hour space", "timestamp", "2023-01-01 7:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := validRecord()
			record[tt.field] = tt.value
			assert.False(t, s.Validate(record))
		})
	}
}

func TestSchema_NumericKinds(t *testing.T) {
	s := TransactionSchema()
	for _, amount := range []interface{}{100, int64(100), uint8(3), float32(1.5), 0.0, json.Number("12.75")} {
		record := validRecord()
		record["amount"] = amount
		assert.True(t, s.Validate(record), "amount %T(%v) should validate", amount, amount)
	}

	record := validRecord()
	record["amount"] = json.Number("not-a-number")
	assert.False(t, s.Validate(record))
}

func TestSchema_NilAndEmptyRecords(t *testing.T) {
	s := TransactionSchema()
	assert.False(t, s.Validate(nil))
	assert.False(t, s.Validate(streametl.Record{}))
}

func TestSchema_ValidationIsIdempotent(t *testing.T) {
	s := TransactionSchema()
	record := validRecord()
	record["extra"] = "kept"
	before := record.Clone()

	first := s.Validate(record)
	second := s.Validate(record)
	assert.Equal(t, first, second)
	assert.Equal(t, before, record)

	bad := streametl.Record{"id": "1", "timestamp": "invalid_date", "amount": 1.0, "customer_id": "C"}
	assert.Equal(t, s.Validate(bad), s.Validate(bad))
}

func TestSchema_ValidatedRecordIsACopy(t *testing.T) {
	s := TransactionSchema()
	record := validRecord()
	v, err := s.Check(record)
	require.NoError(t, err)

	record["id"] = "changed"
	assert.Equal(t, "123", v.Record()["id"])

	out := v.Record()
	out["id"] = "mutated"
	assert.Equal(t, "123", v.Record()["id"])
}

func TestSchema_CustomFieldValidator(t *testing.T) {
	s := NewSchema([]string{"id"},
		WithFieldValidator("id", FieldValidator{
			DataType: FieldTypeString,
			CustomFunc: func(v interface{}) error {
				if v.(string) == "" {
					return errors.New("empty id")
				}
				return nil
			},
		}),
		WithFieldValidator("note", FieldValidator{DataType: FieldTypeString}),
	)

	assert.True(t, s.Validate(streametl.Record{"id": "a"}))
	assert.False(t, s.Validate(streametl.Record{"id": ""}))
	assert.True(t, s.Validate(streametl.Record{"id": "a", "note": "optional"}))
	assert.False(t, s.Validate(streametl.Record{"id": "a", "note": 5}))
}

func TestParseTimestamp(t *testing.T) {
	valid := map[string]time.Time{
		"2023-01-01T12:00:00Z":             time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		"2023-01-01T12:00:00+00:00":        time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		"2023-01-01T12:00:00.250Z":         time.Date(2023, 1, 1, 12, 0, 0, 250000000, time.UTC),
		"2023-01-01T12:00:00.123456":       time.Date(2023, 1, 1, 12, 0, 0, 123456000, time.UTC),
		"2023-01-01 12:00:00":              time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		"2023-01-01T12:00":                 time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		"2023-01-01":                       time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		"2023-01-01T14:00:00+02:00":        time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		"2023-06-30T23:59:59.999999-05:00": time.Date(2023, 7, 1, 4, 59, 59, 999999000, time.UTC),
	}
	for input, want := range valid {
		got, err := ParseTimestamp(input)
		require.NoError(t, err, input)
		assert.True(t, got.Equal(want), "%s: got %s want %s", input, got, want)
	}

	for _, input := range []string{"invalid_date", "2023-13-01", "2023-01-01T25:00:00", "01/02/2023", "2023-01-01T12:00:00 UTC", "Z",
		"2023-01-01T1:00:00Z", "2023-01-01T9:05", "2023-01-01 7:00:00", "2023-01-01T7"} {
		_, err := ParseTimestamp(input)
		assert.Error(t, err, input)
	}
}
