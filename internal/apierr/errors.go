// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apierr defines the closed error-kind taxonomy every component
// in this module returns, and the recovery policy each kind implies.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidRequest      Kind = "InvalidRequest"
	NotFound            Kind = "NotFound"
	StoreTransient      Kind = "StoreTransient"
	StoreFatal          Kind = "StoreFatal"
	CodecTimeout        Kind = "CodecTimeout"
	CodecDispatchFailed Kind = "CodecDispatchFailed"
	Cancelled           Kind = "Cancelled"
)

// Error is the single error type every component in this module returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to StoreFatal for
// unknown errors — all kinds but StoreTransient terminate the search.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return StoreFatal
}

// Retryable reports whether the recovery policy retries this kind — only
// StoreTransient.
func Retryable(err error) bool {
	return KindOf(err) == StoreTransient
}

// HTTPStatus maps a Kind onto the status code used by the bounded (non-SSE)
// list endpoints.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Cancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
