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

// Package endpoint creates endpoints by type name and runs them as a group.
//
//	group := endpoint.NewGroup(env)
//	_, err := group.Add("http", types.Configuration{"server": ":8080"})
//	err = group.Start()
//	defer group.Close()
//
// Package endpoint 按类型名称创建端点并作为一组运行。
package endpoint

import (
	"errors"
	"sync"

	"github.com/rulego/webbus/api/types/endpoint"
)

// Group owns a list of endpoints sharing one env. Endpoints start in the order they
// were added and close in reverse order.
type Group struct {
	env      endpoint.Env
	registry *ComponentRegistry

	mu        sync.Mutex
	endpoints []endpoint.Endpoint
	started   int
}

// NewGroup creates a group creating its endpoints from Registry.
func NewGroup(env endpoint.Env) *Group {
	return &Group{env: env, registry: Registry}
}

// Env returns the env shared by the endpoints.
func (g *Group) Env() endpoint.Env {
	return g.env
}

// Add creates an endpoint of componentType and adds it to the group.
func (g *Group) Add(componentType string, configuration interface{}) (endpoint.Endpoint, error) {
	ep, err := g.registry.New(componentType, g.env, configuration)
	if err != nil {
		return nil, err
	}
	g.Use(ep)
	return ep, nil
}

// Use adds an endpoint that is already initialized.
func (g *Group) Use(ep endpoint.Endpoint) {
	g.mu.Lock()
	g.endpoints = append(g.endpoints, ep)
	g.mu.Unlock()
}

// Endpoints returns the endpoints of the group.
func (g *Group) Endpoints() []endpoint.Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]endpoint.Endpoint(nil), g.endpoints...)
}

// Start starts the endpoints not started yet. It stops at the first failure,
// leaving the endpoints started before it running.
func (g *Group) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.started < len(g.endpoints) {
		if err := g.endpoints[g.started].Start(); err != nil {
			return err
		}
		g.started++
	}
	return nil
}

// Close closes every endpoint in reverse order and returns the joined errors.
func (g *Group) Close() error {
	g.mu.Lock()
	endpoints := g.endpoints
	g.endpoints = nil
	g.started = 0
	g.mu.Unlock()

	var errs []error
	for i := len(endpoints) - 1; i >= 0; i-- {
		if err := endpoints[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
