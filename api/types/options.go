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

import "time"

// Option is a function type that modifies the Config.
type Option func(*Config) error

// WithLogger sets the logger of the Config.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithPool sets the pool used for bus deliveries.
func WithPool(pool Pool) Option {
	return func(c *Config) error {
		c.Pool = pool
		return nil
	}
}

// WithBlockingPool sets the pool used for blocking handlers.
func WithBlockingPool(pool Pool) Option {
	return func(c *Config) error {
		c.BlockingPool = pool
		return nil
	}
}

// WithBlockingPoolSize replaces the blocking pool with a bounded pool of size workers.
func WithBlockingPoolSize(size int) Option {
	return func(c *Config) error {
		if size > 0 {
			c.BlockingPool = NewBoundedPool(size)
		}
		return nil
	}
}

// WithRequestTimeout sets the per-request timeout. Zero disables it.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.RequestTimeout = timeout
		return nil
	}
}

// WithReplyTimeout sets the default reply timeout of bus requests.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout > 0 {
			c.ReplyTimeout = timeout
		}
		return nil
	}
}

// WithProperties sets global properties.
func WithProperties(properties Metadata) Option {
	return func(c *Config) error {
		c.Properties = properties
		return nil
	}
}
