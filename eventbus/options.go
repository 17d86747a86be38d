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
	"time"

	"github.com/rulego/webbus/api/types"
)

// DeliveryOptions tune a single send, publish or request.
type DeliveryOptions struct {
	// Headers travel with the message.
	Headers types.Metadata
	// Timeout bounds how long a request waits for its reply. Zero uses the bus default.
	Timeout time.Duration
}

// DeliveryOption modifies DeliveryOptions.
type DeliveryOption func(*DeliveryOptions)

// WithHeader adds a message header.
func WithHeader(key, value string) DeliveryOption {
	return func(o *DeliveryOptions) {
		if o.Headers == nil {
			o.Headers = types.NewMetadata()
		}
		o.Headers.PutValue(key, value)
	}
}

// WithHeaders adds every header of headers.
func WithHeaders(headers map[string]string) DeliveryOption {
	return func(o *DeliveryOptions) {
		if o.Headers == nil {
			o.Headers = types.NewMetadata()
		}
		for k, v := range headers {
			o.Headers.PutValue(k, v)
		}
	}
}

// WithTimeout sets the reply timeout of a request.
func WithTimeout(timeout time.Duration) DeliveryOption {
	return func(o *DeliveryOptions) {
		o.Timeout = timeout
	}
}

func newDeliveryOptions(opts []DeliveryOption) DeliveryOptions {
	var o DeliveryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Headers == nil {
		o.Headers = types.NewMetadata()
	}
	return o
}
