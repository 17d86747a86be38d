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

package eventbus

import (
	"errors"
	"fmt"
)

var (
	// ErrBusClosed is returned once the bus is closed, and fails replies pending at Close.
	ErrBusClosed = errors.New("event bus closed")
	// ErrReplyNotFound is returned when replying to a message whose sender stopped
	// waiting: it was already answered, timed out, or never asked for a reply.
	ErrReplyNotFound = errors.New("reply handler not found")
	// ErrEmptyAddress is returned for an empty address.
	ErrEmptyAddress = errors.New("address can not empty")
	// ErrNilHandler is returned when registering a nil consumer.
	ErrNilHandler = errors.New("handler can not nil")
)

// FailureType classifies a failed request.
type FailureType int

const (
	// NoHandlers means no consumer was registered at the address.
	NoHandlers FailureType = iota
	// Timeout means no reply arrived in time.
	Timeout
	// RecipientFailure means the consumer failed the message or panicked.
	RecipientFailure
)

func (t FailureType) String() string {
	switch t {
	case NoHandlers:
		return "NO_HANDLERS"
	case Timeout:
		return "TIMEOUT"
	case RecipientFailure:
		return "RECIPIENT_FAILURE"
	default:
		return fmt.Sprintf("FailureType(%d)", int(t))
	}
}

// ReplyError is delivered to a reply handler when a request fails.
// errors.Is matches two ReplyErrors of the same Type.
type ReplyError struct {
	Type FailureType
	// Code is the code passed to Message.Fail, -1 for a panicking consumer.
	Code    int
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s(%d): %s", e.Type, e.Code, e.Message)
}

func (e *ReplyError) Is(target error) bool {
	t, ok := target.(*ReplyError)
	return ok && t.Type == e.Type
}

var (
	// ErrNoHandlers matches every ReplyError of type NoHandlers.
	ErrNoHandlers = &ReplyError{Type: NoHandlers, Code: -1}
	// ErrTimeout matches every ReplyError of type Timeout.
	ErrTimeout = &ReplyError{Type: Timeout, Code: -1}
	// ErrRecipientFailure matches every ReplyError of type RecipientFailure.
	ErrRecipientFailure = &ReplyError{Type: RecipientFailure, Code: -1}
)
