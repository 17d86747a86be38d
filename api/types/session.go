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
	"context"
	"time"
)

// Session is the server side state attached to a browser through a session cookie.
// Implementations must be safe for concurrent use.
type Session interface {
	// Id returns the session id.
	Id() string
	// Get returns the value stored under key. ok is false if it is absent.
	Get(key string) (value interface{}, ok bool)
	// Put stores value under key.
	Put(key string, value interface{})
	// Remove deletes key and returns the previous value.
	Remove(key string) interface{}
	// Data returns a copy of all entries.
	Data() map[string]interface{}
	// Destroy marks the session for removal from the store.
	Destroy()
	// IsDestroyed reports whether Destroy was called.
	IsDestroyed() bool
	// Timeout is the idle timeout of the session.
	Timeout() time.Duration
	// LastAccessed is the time of the last request that used the session.
	LastAccessed() time.Time
	// SetAccessed records an access now.
	SetAccessed()
}

// SessionStore persists sessions between requests.
// SessionStore 会话存储接口，可以是本地缓存或外部存储。
type SessionStore interface {
	// CreateSession creates a new, not yet stored, session.
	CreateSession(timeout time.Duration) Session
	// Get returns the session with id, or nil if it does not exist or expired.
	Get(ctx context.Context, id string) (Session, error)
	// Put stores the session.
	Put(ctx context.Context, session Session) error
	// Remove deletes the session with id.
	Remove(ctx context.Context, id string) error
	// Clear deletes every session.
	Clear(ctx context.Context) error
	// Size returns the number of stored sessions.
	Size(ctx context.Context) (int, error)
	// Close releases resources.
	Close()
}
