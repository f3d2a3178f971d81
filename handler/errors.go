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

package handler

import (
	"errors"
	"net/http"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	KindDecode     ErrorKind = "decode"
	KindProcessing ErrorKind = "processing"
	KindStorage    ErrorKind = "storage"
)

// DecodeError reports a payload that is not a JSON object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode payload: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// ProcessingError reports a failure while validating or enriching the batch.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string { return "process batch: " + e.Err.Error() }
func (e *ProcessingError) Unwrap() error { return e.Err }

// StorageError reports a failed write to an output location.
type StorageError struct {
	Location string
	Err      error
}

func (e *StorageError) Error() string {
	return "write " + e.Location + ": " + e.Err.Error()
}
func (e *StorageError) Unwrap() error { return e.Err }

// Classify returns the kind and HTTP-style status for err. Unclassified errors are
// processing errors.
func Classify(err error) (ErrorKind, int) {
	var (
		decodeErr  *DecodeError
		storageErr *StorageError
	)
	switch {
	case errors.As(err, &decodeErr):
		return KindDecode, http.StatusBadRequest
	case errors.As(err, &storageErr):
		return KindStorage, http.StatusBadGateway
	default:
		return KindProcessing, http.StatusInternalServerError
	}
}
