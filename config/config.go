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

// Package config retrieves application configuration from a list of stores.
//
// Each store reads raw bytes from somewhere (a file, the environment, a database) and a
// processor turns them into a map. The maps of all stores are merged in declaration
// order, later stores overriding earlier ones. Stores and processors are looked up by
// name in registries, so applications can plug their own.
//
// Package config 从多个配置存储读取并合并应用配置。
//
//	retriever, err := config.NewRetriever(config.RetrieverOptions{
//		Stores: []config.StoreOptions{
//			{Type: "file", Config: types.Configuration{"path": "conf.yaml"}},
//			{Type: "env", Config: types.Configuration{"prefix": "WEBBUS_"}, Optional: true},
//		},
//	})
package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rulego/webbus/api/types"
)

var (
	// ErrUnknownStore is returned for a store type that is not registered.
	ErrUnknownStore = errors.New("unknown config store")
	// ErrUnknownProcessor is returned for a format that has no registered processor.
	ErrUnknownProcessor = errors.New("unknown config processor")
)

// Store reads raw configuration.
type Store interface {
	Get(ctx context.Context) ([]byte, error)
}

// StoreFactory creates a store from its configuration.
type StoreFactory func(conf types.Configuration) (Store, error)

// FormatHinter is implemented by stores that know the format of what they read.
type FormatHinter interface {
	Format() string
}

// Processor turns raw configuration into a map.
type Processor interface {
	// Name is the format the processor handles, e.g. "yaml".
	Name() string
	// Process parses raw. conf is the configuration of the store that read raw.
	Process(ctx context.Context, conf types.Configuration, raw []byte) (map[string]interface{}, error)
}

type registry struct {
	mu         sync.RWMutex
	stores     map[string]StoreFactory
	processors map[string]Processor
}

var defaultRegistry = &registry{
	stores:     map[string]StoreFactory{},
	processors: map[string]Processor{},
}

// RegisterStore registers a store factory under name, replacing any previous one.
func RegisterStore(name string, factory StoreFactory) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.stores[name] = factory
}

// RegisterProcessor registers processor under its name, replacing any previous one.
func RegisterProcessor(processor Processor) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.processors[processor.Name()] = processor
}

// StoreTypes returns the registered store types, sorted.
func StoreTypes() []string {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	var names []string
	for name := range defaultRegistry.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Formats returns the registered processor names, sorted.
func Formats() []string {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	var names []string
	for name := range defaultRegistry.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupStore(name string) (StoreFactory, error) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	factory, ok := defaultRegistry.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	return factory, nil
}

func lookupProcessor(name string) (Processor, error) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	processor, ok := defaultRegistry.processors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
	}
	return processor, nil
}

func init() {
	RegisterStore(TypeFile, newFileStore)
	RegisterStore(TypeEnv, newEnvStore)
	RegisterStore(TypeJSON, newJSONStore)
	RegisterStore(TypeSQL, newSQLStore)

	RegisterProcessor(jsonProcessor{})
	RegisterProcessor(yamlProcessor{})
	RegisterProcessor(tomlProcessor{})
	RegisterProcessor(newJSProcessor())
}
