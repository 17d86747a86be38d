/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package router

import (
	"errors"
	"fmt"
)

// StatusUnknown is the failure status code of a request whose handler panicked or
// failed with an error but no explicit code. It never collides with an HTTP status.
const StatusUnknown = -1

var (
	// ErrEmptyPath is returned when a route is registered with an explicit empty path.
	ErrEmptyPath = errors.New("route path can not empty")
	// ErrNilHandler is returned when a route is registered without a handler.
	ErrNilHandler = errors.New("route handler can not nil")
	// ErrAlreadyResumed is returned when a handler resumes the chain twice, e.g. calls
	// Next after Fail.
	ErrAlreadyResumed = errors.New("routing context already resumed")
	// ErrRequestCompleted is returned when the chain is resumed after the response ended.
	ErrRequestCompleted = errors.New("request already completed")
	// ErrResponseEnded is returned when writing to a response that already ended.
	ErrResponseEnded = errors.New("response already ended")
	// ErrRequestTimeout is the failure cause of a request that exceeded its timeout.
	ErrRequestTimeout = errors.New("request timeout")
)

// PanicError is the failure cause recorded when a handler panics.
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
