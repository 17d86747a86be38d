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

package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/utils/cache"
)

// DefaultSessionTimeout is the idle timeout of sessions created by the session handler.
const DefaultSessionTimeout = 30 * time.Minute

// session is the Session implementation used by the local store.
type session struct {
	id      string
	timeout time.Duration

	mu           sync.RWMutex
	data         map[string]interface{}
	lastAccessed time.Time
	destroyed    bool
}

// NewSession creates a session with a random id. Stores of other backends may use it
// for the sessions they create.
func NewSession(timeout time.Duration) types.Session {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	uuId, _ := uuid.NewV4()
	return &session{
		id:           uuId.String(),
		timeout:      timeout,
		data:         make(map[string]interface{}),
		lastAccessed: time.Now(),
	}
}

func (s *session) Id() string {
	return s.id
}

func (s *session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *session) Put(key string, value interface{}) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

func (s *session) Remove(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.data[key]
	delete(s.data, key)
	return v
}

func (s *session) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := make(map[string]interface{}, len(s.data))
	for k, v := range s.data {
		data[k] = v
	}
	return data
}

func (s *session) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.data = make(map[string]interface{})
	s.mu.Unlock()
}

func (s *session) IsDestroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

func (s *session) Timeout() time.Duration {
	return s.timeout
}

func (s *session) LastAccessed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccessed
}

func (s *session) SetAccessed() {
	s.mu.Lock()
	s.lastAccessed = time.Now()
	s.mu.Unlock()
}

// LocalSessionStore keeps sessions in process memory. Sessions expire after their
// idle timeout.
type LocalSessionStore struct {
	cache *cache.MemoryCache
}

var _ types.SessionStore = (*LocalSessionStore)(nil)

// NewLocalSessionStore creates a store whose expired sessions are collected every
// reaperInterval, one minute when zero.
func NewLocalSessionStore(reaperInterval time.Duration) *LocalSessionStore {
	c := cache.NewMemoryCache(reaperInterval)
	c.StartGC()
	return &LocalSessionStore{cache: c}
}

func (s *LocalSessionStore) CreateSession(timeout time.Duration) types.Session {
	return NewSession(timeout)
}

func (s *LocalSessionStore) Get(ctx context.Context, id string) (types.Session, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, nil
	}
	return v.(types.Session), nil
}

func (s *LocalSessionStore) Put(ctx context.Context, session types.Session) error {
	s.cache.Set(session.Id(), session, session.Timeout())
	return nil
}

func (s *LocalSessionStore) Remove(ctx context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

func (s *LocalSessionStore) Clear(ctx context.Context) error {
	s.cache.Clear()
	return nil
}

func (s *LocalSessionStore) Size(ctx context.Context) (int, error) {
	return s.cache.Len(), nil
}

// Close stops the expired session collector.
func (s *LocalSessionStore) Close() {
	s.cache.StopGC()
}
