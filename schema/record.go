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
	"time"

	"github.com/aaronlmathis/streametl"
)

// Field names of the transaction schema.
const (
	FieldID         = "id"
	FieldTimestamp  = "timestamp"
	FieldAmount     = "amount"
	FieldCustomerID = "customer_id"
)

// Transaction is the typed view of a record that passed validation.
type Transaction struct {
	ID         string
	Timestamp  time.Time
	Amount     float64
	CustomerID string
}

// ValidatedRecord is a record that passed schema validation. The zero value is not valid;
// values are produced only by Schema.Check.
type ValidatedRecord struct {
	fields streametl.Record
	txn    Transaction
}

// Record returns a copy of the validated record's fields.
func (v ValidatedRecord) Record() streametl.Record {
	return v.fields.Clone()
}

// Transaction returns the typed view of the record.
func (v ValidatedRecord) Transaction() Transaction {
	return v.txn
}

// IsZero reports whether v was not produced by validation.
func (v ValidatedRecord) IsZero() bool {
	return v.fields == nil
}
