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

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute)

	t.Run("SetAndGet", func(t *testing.T) {
		c.Set("key1", "value1", time.Minute)
		v, ok := c.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", v)

		c.Set("key2", "value2", 10*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		_, ok = c.Get("key2")
		assert.False(t, ok)
	})

	t.Run("Touch", func(t *testing.T) {
		c.Set("touched", 1, 40*time.Millisecond)
		time.Sleep(25 * time.Millisecond)
		assert.True(t, c.Touch("touched", 40*time.Millisecond))
		time.Sleep(25 * time.Millisecond)
		assert.True(t, c.Has("touched"))
		assert.False(t, c.Touch("missing", time.Minute))
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set("key1", "value1", 0)
		c.Delete("key1")
		assert.False(t, c.Has("key1"))
	})

	t.Run("DeleteByPrefix", func(t *testing.T) {
		c.Set("prefix_key1", "value1", 0)
		c.Set("prefix_key2", "value2", 0)
		c.Set("other_key", "value3", 0)
		c.DeleteByPrefix("prefix_")
		assert.False(t, c.Has("prefix_key1"))
		assert.False(t, c.Has("prefix_key2"))
		assert.True(t, c.Has("other_key"))
	})

	t.Run("Clear", func(t *testing.T) {
		c.Set("a", 1, 0)
		c.Clear()
		assert.Equal(t, 0, c.Len())
	})
}

func TestMemoryCacheGC(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond)
	var mu sync.Mutex
	evicted := map[string]interface{}{}
	c.OnEvict = func(key string, value interface{}) {
		mu.Lock()
		evicted[key] = value
		mu.Unlock()
	}
	c.StartGC()
	c.StartGC()
	defer c.StopGC()

	c.Set("short", "x", 5*time.Millisecond)
	c.Set("long", "y", time.Minute)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return evicted["short"] == "x"
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.Has("long"))
	c.StopGC()
}
