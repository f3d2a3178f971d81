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

// validator.go - Record schema validation for incoming stream records
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/aaronlmathis/streametl"
)

// FieldDataType represents expected data types for validation
type FieldDataType string

const (
	FieldTypeString    FieldDataType = "string"
	FieldTypeNumber    FieldDataType = "number"
	FieldTypeTimestamp FieldDataType = "timestamp"
	FieldTypeAny       FieldDataType = "any"
)

// FieldValidator defines validation rules for individual fields
type FieldValidator struct {
	DataType   FieldDataType           // Expected data type
	CustomFunc func(interface{}) error // Optional extra check, run after the type check
}

// ValidationError reports the first field of a record that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// Schema validates records against required fields and per-field type rules.
// A Schema is safe for concurrent use once built.
type Schema struct {
	RequiredFields  []string                  // Fields that must be present in every record, checked in order
	FieldValidators map[string]FieldValidator // Per-field validation rules
}

// TransactionSchema returns the schema for transaction records: id, timestamp, amount and
// customer_id are required; id and customer_id are strings, amount is numeric and timestamp
// is an ISO-8601 date-time.
func TransactionSchema() *Schema {
	return NewSchema(
		[]string{FieldID, FieldTimestamp, FieldAmount, FieldCustomerID},
		WithFieldValidator(FieldID, FieldValidator{DataType: FieldTypeString}),
		WithFieldValidator(FieldAmount, FieldValidator{DataType: FieldTypeNumber}),
		WithFieldValidator(FieldCustomerID, FieldValidator{DataType: FieldTypeString}),
		WithFieldValidator(FieldTimestamp, FieldValidator{DataType: FieldTypeTimestamp}),
	)
}

// Option is a functional option for configuring a Schema
type Option func(*Schema)

// WithFieldValidator adds a field-specific validator
func WithFieldValidator(fieldName string, validator FieldValidator) Option {
	return func(s *Schema) {
		if s.FieldValidators == nil {
			s.FieldValidators = make(map[string]FieldValidator)
		}
		s.FieldValidators[fieldName] = validator
	}
}

// NewSchema creates a schema with the given required fields and options.
func NewSchema(requiredFields []string, options ...Option) *Schema {
	s := &Schema{
		RequiredFields:  append([]string(nil), requiredFields...),
		FieldValidators: make(map[string]FieldValidator),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Validate reports whether the record satisfies the schema. It never panics and never
// modifies the record.
func (s *Schema) Validate(record streametl.Record) bool {
	_, err := s.Check(record)
	return err == nil
}

// Check validates the record and returns its validated form. The returned error is a
// *ValidationError naming the first failing field.
func (s *Schema) Check(record streametl.Record) (v ValidatedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = ValidatedRecord{}
			err = &ValidationError{Field: "", Reason: fmt.Sprintf("validation panicked: %v", r)}
		}
	}()

	for _, field := range s.RequiredFields {
		if _, exists := record[field]; !exists {
			return ValidatedRecord{}, &ValidationError{Field: field, Reason: "missing required field"}
		}
	}

	// Required fields are checked in order first so errors are deterministic.
	checked := make(map[string]bool, len(s.RequiredFields))
	for _, field := range s.RequiredFields {
		if validator, ok := s.FieldValidators[field]; ok {
			if err := validateFieldValue(field, record[field], validator); err != nil {
				return ValidatedRecord{}, err
			}
		}
		checked[field] = true
	}
	for field, validator := range s.FieldValidators {
		if checked[field] {
			continue
		}
		value, exists := record[field]
		if !exists {
			continue
		}
		if err := validateFieldValue(field, value, validator); err != nil {
			return ValidatedRecord{}, err
		}
	}

	fields := record.Clone()
	return ValidatedRecord{fields: fields, txn: transactionOf(fields)}, nil
}

// validateFieldValue validates a single field value against its validator
func validateFieldValue(field string, value interface{}, validator FieldValidator) error {
	if value == nil && validator.DataType != FieldTypeAny {
		return &ValidationError{Field: field, Reason: "null value"}
	}

	switch validator.DataType {
	case FieldTypeString:
		if _, ok := value.(string); !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
	case FieldTypeNumber:
		if _, ok := toFloat64(value); !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("expected number, got %T", value)}
		}
	case FieldTypeTimestamp:
		str, ok := value.(string)
		if !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("expected timestamp string, got %T", value)}
		}
		if _, err := ParseTimestamp(str); err != nil {
			return &ValidationError{Field: field, Reason: err.Error()}
		}
	}

	if validator.CustomFunc != nil {
		if err := validator.CustomFunc(value); err != nil {
			return &ValidationError{Field: field, Reason: err.Error()}
		}
	}
	return nil
}

// transactionOf builds the typed view; fields that are absent or mistyped stay zero.
func transactionOf(record streametl.Record) Transaction {
	var txn Transaction
	txn.ID, _ = record[FieldID].(string)
	txn.CustomerID, _ = record[FieldCustomerID].(string)
	txn.Amount, _ = toFloat64(record[FieldAmount])
	if ts, ok := record[FieldTimestamp].(string); ok {
		if parsed, err := ParseTimestamp(ts); err == nil {
			txn.Timestamp = parsed
		}
	}
	return txn
}

// toFloat64 converts numeric types to float64. Booleans and strings are not numbers.
func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
