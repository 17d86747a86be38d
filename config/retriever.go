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

package config

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/utils/maps"
	"github.com/rulego/webbus/utils/runtime"
)

// StoreOptions declare one store of a retriever.
type StoreOptions struct {
	// Type is the registered store type, e.g. "file".
	Type string
	// Format is the registered processor name. When empty the store's own format
	// is used, or json.
	Format string
	// Config is passed to the store factory and to the processor.
	Config types.Configuration
	// Optional stores that fail to read are skipped instead of failing the retrieval.
	Optional bool
}

// RetrieverOptions configure a retriever.
type RetrieverOptions struct {
	Stores []StoreOptions
	// ScanPeriod is the interval of the change scan started by Start. Zero disables it.
	ScanPeriod time.Duration
	Logger     types.Logger
}

// Change describes a configuration change seen by a scan.
type Change struct {
	Previous map[string]interface{}
	Current  map[string]interface{}
}

type configuredStore struct {
	options   StoreOptions
	store     Store
	processor Processor
}

// Retriever reads and merges the configuration of its stores.
type Retriever struct {
	stores     []configuredStore
	scanPeriod time.Duration
	logger     types.Logger

	mu        sync.RWMutex
	current   map[string]interface{}
	listeners []func(Change)
	stop      chan struct{}
}

// NewRetriever creates the stores and resolves their processors. It fails on an
// unknown store type or format.
func NewRetriever(opts RetrieverOptions) (*Retriever, error) {
	r := &Retriever{scanPeriod: opts.ScanPeriod, logger: types.NewLogger(opts.Logger)}
	for i, so := range opts.Stores {
		factory, err := lookupStore(so.Type)
		if err != nil {
			return nil, fmt.Errorf("store %d: %w", i, err)
		}
		store, err := factory(so.Config)
		if err != nil {
			return nil, fmt.Errorf("store %d (%s): %w", i, so.Type, err)
		}
		format := so.Format
		if format == "" {
			if hinter, ok := store.(FormatHinter); ok {
				format = hinter.Format()
			} else {
				format = FormatJSON
			}
		}
		processor, err := lookupProcessor(format)
		if err != nil {
			return nil, fmt.Errorf("store %d (%s): %w", i, so.Type, err)
		}
		r.stores = append(r.stores, configuredStore{options: so, store: store, processor: processor})
	}
	return r, nil
}

// GetConfig reads every store and returns the merged configuration.
func (r *Retriever) GetConfig(ctx context.Context) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	for i, s := range r.stores {
		values, err := r.read(ctx, s)
		if err != nil {
			if s.options.Optional {
				r.logger.Printf("skip optional config store %d (%s): %v", i, s.options.Type, err)
				continue
			}
			return nil, fmt.Errorf("config store %d (%s): %w", i, s.options.Type, err)
		}
		merge(result, values)
	}
	r.mu.Lock()
	r.current = result
	r.mu.Unlock()
	return result, nil
}

func (r *Retriever) read(ctx context.Context, s configuredStore) (values map[string]interface{}, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("config store panic: %v\n%s", v, runtime.Stack())
		}
	}()
	raw, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.processor.Process(ctx, s.options.Config, raw)
}

// CachedConfig returns the configuration of the last successful retrieval.
func (r *Retriever) CachedConfig() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Unmarshal decodes the last retrieved configuration into v, see maps.Map2Struct.
func (r *Retriever) Unmarshal(v interface{}) error {
	return maps.Map2Struct(r.CachedConfig(), v)
}

// Listen registers fn to be called with every change found by the scan.
func (r *Retriever) Listen(fn func(Change)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Start runs the change scan every ScanPeriod until Close.
func (r *Retriever) Start() {
	if r.scanPeriod <= 0 {
		return
	}
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.scanPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.scan()
			}
		}
	}()
}

func (r *Retriever) scan() {
	previous := r.CachedConfig()
	current, err := r.GetConfig(context.Background())
	if err != nil {
		r.logger.Printf("scan config error: %v", err)
		return
	}
	if reflect.DeepEqual(previous, current) {
		return
	}
	r.mu.RLock()
	listeners := append(([]func(Change))(nil), r.listeners...)
	r.mu.RUnlock()
	change := Change{Previous: previous, Current: current}
	for _, fn := range listeners {
		fn(change)
	}
}

// Close stops the scan and closes the stores that hold resources.
func (r *Retriever) Close() error {
	r.mu.Lock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.mu.Unlock()
	var firstErr error
	for _, s := range r.stores {
		if c, ok := s.store.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// merge deep merges src into dst. Nested maps are merged, other values replaced.
func merge(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				merge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}
