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

package types

import (
	"math"
	"time"

	"github.com/rulego/webbus/utils/pool"
)

const (
	// DefaultBlockingPoolSize is the worker count of the pool that runs blocking handlers.
	DefaultBlockingPoolSize = 20
	// DefaultReplyTimeout is how long a bus request waits for its reply.
	DefaultReplyTimeout = 30 * time.Second
)

// Config is shared by the router, the event bus and the endpoints.
type Config struct {
	// Logger is the logging interface, defaulting to `DefaultLogger()`.
	Logger Logger
	// Pool runs event bus deliveries and reply callbacks.
	// If not configured, a pool with an unlimited worker count is used.
	Pool Pool
	// BlockingPool runs handlers registered with BlockingHandler. It should be bounded
	// so that slow handlers cannot exhaust the process.
	BlockingPool Pool
	// RequestTimeout forces a 503 failure on requests that have not completed in time.
	// Zero disables the timeout.
	RequestTimeout time.Duration
	// ReplyTimeout is the default timeout of EventBus.Request.
	ReplyTimeout time.Duration
	// Properties are global properties in key-value format.
	Properties Metadata
}

// NewConfig creates a new Config with default values and applies the provided options.
func NewConfig(opts ...Option) Config {
	c := &Config{
		Logger:       DefaultLogger(),
		ReplyTimeout: DefaultReplyTimeout,
		Properties:   NewMetadata(),
	}
	for _, opt := range opts {
		_ = opt(c)
	}
	if c.Pool == nil {
		c.Pool = DefaultPool()
	}
	if c.BlockingPool == nil {
		c.BlockingPool = NewBoundedPool(DefaultBlockingPoolSize)
	}
	return *c
}

// DefaultPool provides a pool with an unlimited worker count.
func DefaultPool() Pool {
	return NewBoundedPool(math.MaxInt32)
}

// NewBoundedPool provides a started pool with at most size workers.
func NewBoundedPool(size int) Pool {
	wp := &pool.WorkerPool{MaxWorkersCount: size}
	wp.Start()
	return wp
}
