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

// Package cache provides an in-memory key-value cache with per-item expiration.
// It backs the local session store.
package cache

import (
	"strings"
	"sync"
	"time"
)

// MemoryCache is an in-memory cache implementation.
// It stores key-value pairs with optional expiration.
type MemoryCache struct {
	items      map[string]item
	mu         sync.RWMutex
	stopGc     chan struct{}
	gcInterval time.Duration
	gcRunning  bool
	// OnEvict is called, outside the lock, for every item removed by the collector.
	OnEvict func(key string, value interface{})
}

// item expiration is a Unix nano timestamp, 0 never expires.
type item struct {
	value      interface{}
	expiration int64
}

func (it item) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

// NewMemoryCache creates a MemoryCache. gcInterval defaults to 1 minute.
// Garbage collection is not started automatically, call StartGC() to enable it.
func NewMemoryCache(gcInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]item),
		gcInterval: time.Minute,
	}
	if gcInterval > 0 {
		c.gcInterval = gcInterval
	}
	return c
}

// Set stores value under key. A ttl of 0 never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}
	c.mu.Lock()
	c.items[key] = item{value: value, expiration: expiration}
	c.mu.Unlock()
}

// Get returns the value stored under key. ok is false if it is absent or expired.
func (c *MemoryCache) Get(key string) (value interface{}, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		return nil, false
	}
	return it.value, true
}

// Has checks if key exists and has not expired.
func (c *MemoryCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Touch resets the expiration of key to now + ttl. It returns false if key is absent.
func (c *MemoryCache) Touch(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		return false
	}
	if ttl > 0 {
		it.expiration = time.Now().Add(ttl).UnixNano()
	} else {
		it.expiration = 0
	}
	c.items[key] = it
	return true
}

// Delete removes key.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeleteByPrefix removes all items whose key starts with prefix.
func (c *MemoryCache) DeleteByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
}

// Clear removes every item.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]item)
	c.mu.Unlock()
}

// Len returns the number of live items.
func (c *MemoryCache) Len() int {
	now := time.Now().UnixNano()
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, it := range c.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

// StartGC starts a goroutine that removes expired items every gcInterval.
// It is a no-op if the collector is already running.
func (c *MemoryCache) StartGC() {
	c.mu.Lock()
	if c.gcRunning {
		c.mu.Unlock()
		return
	}
	c.gcRunning = true
	c.stopGc = make(chan struct{})
	stop := c.stopGc
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.deleteExpired()
			case <-stop:
				return
			}
		}
	}()
}

// StopGC stops the collector. Safe to call multiple times.
func (c *MemoryCache) StopGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gcRunning {
		close(c.stopGc)
		c.gcRunning = false
	}
}

func (c *MemoryCache) deleteExpired() {
	now := time.Now().UnixNano()
	evicted := make(map[string]interface{})

	c.mu.Lock()
	for k, it := range c.items {
		if it.expired(now) {
			evicted[k] = it.value
			delete(c.items, k)
		}
	}
	onEvict := c.OnEvict
	c.mu.Unlock()

	if onEvict != nil {
		for k, v := range evicted {
			onEvict(k, v)
		}
	}
}
