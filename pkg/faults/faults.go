// Copyright 2025 The Lumen Authors
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

// Package faults defines the error taxonomy shared by every component.
//
// Errors carry a Kind that callers branch on, plus the component and
// operation that produced them. Only the Kind is part of the contract;
// message text is free-form.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for routing and retry decisions.
type Kind string

const (
	KindInputInvalid Kind = "input_invalid"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindRetriable    Kind = "retriable"
	KindCancelled    Kind = "cancelled"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Error is the tagged error value returned across stage boundaries.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a tagged error.
func New(kind Kind, component, operation, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// KindOf extracts the Kind from an error chain. Context cancellation and
// deadline errors map to their kinds even when produced outside this package.
// Unrecognized errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Retriable reports whether the error is worth retrying per the node policy.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindRetriable, KindUnavailable:
		return true
	}
	return false
}

// Terminal reports whether the error must propagate to the caller unchanged.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindCancelled, KindTimeout, KindInputInvalid:
		return true
	}
	return false
}
