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
	"encoding/json"
	"net/http"
)

// Response is the invocation result returned to the runtime.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// ResponseBody is the JSON document carried in Response.Body.
type ResponseBody struct {
	Message        string    `json:"message"`
	ProcessedCount *int      `json:"processed_count,omitempty"`
	OutputLocation string    `json:"output_location,omitempty"`
	Error          string    `json:"error,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
}

const (
	messageSuccess = "Successfully processed records"
	messageEmpty   = "No valid records to process"
	messageError   = "Error processing records"
)

func newResponse(status int, body ResponseBody) Response {
	// ResponseBody holds only strings and ints.
	data, _ := json.Marshal(body)
	return Response{StatusCode: status, Body: string(data)}
}

func successResponse(count int, location string) Response {
	return newResponse(http.StatusOK, ResponseBody{
		Message:        messageSuccess,
		ProcessedCount: &count,
		OutputLocation: location,
	})
}

func emptyResponse() Response {
	zero := 0
	return newResponse(http.StatusOK, ResponseBody{Message: messageEmpty, ProcessedCount: &zero})
}

func errorResponse(err error) Response {
	kind, status := Classify(err)
	return newResponse(status, ResponseBody{
		Message:   messageError,
		Error:     err.Error(),
		ErrorKind: kind,
	})
}

// DecodeBody parses Response.Body.
func (r Response) DecodeBody() (ResponseBody, error) {
	var body ResponseBody
	err := json.Unmarshal([]byte(r.Body), &body)
	return body, err
}
