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

package endpoint

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/endpoint/mqtt"
	"github.com/rulego/webbus/endpoint/rest"
	"github.com/rulego/webbus/endpoint/schedule"
	"github.com/rulego/webbus/endpoint/websocket"
	"github.com/rulego/webbus/utils/maps"
)

// init registers the available endpoint components with the Registry.
func init() {
	_ = Registry.Register(&rest.Endpoint{})
	_ = Registry.Register(&websocket.Endpoint{})
	_ = Registry.Register(&mqtt.Endpoint{})
	_ = Registry.Register(&schedule.Endpoint{})
}

// Registry is the default registry for endpoint components.
var Registry = new(ComponentRegistry)

// ComponentRegistry creates endpoints by type name.
type ComponentRegistry struct {
	// components holds the registered endpoint prototypes.
	components map[string]endpoint.Endpoint
	sync.RWMutex
}

// Register adds a new endpoint component to the registry.
func (r *ComponentRegistry) Register(component endpoint.Endpoint) error {
	r.Lock()
	defer r.Unlock()
	if r.components == nil {
		r.components = make(map[string]endpoint.Endpoint)
	}
	if _, ok := r.components[component.Type()]; ok {
		return errors.New("the component already exists. type=" + component.Type())
	}
	r.components[component.Type()] = component
	return nil
}

// Unregister removes an endpoint component from the registry.
func (r *ComponentRegistry) Unregister(componentType string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.components[componentType]; !ok {
		return fmt.Errorf("component not found. type=%s", componentType)
	}
	delete(r.components, componentType)
	return nil
}

// Types returns the registered component types, sorted.
func (r *ComponentRegistry) Types() []string {
	r.RLock()
	defer r.RUnlock()
	result := make([]string, 0, len(r.components))
	for t := range r.components {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// New creates and initializes an endpoint of componentType. configuration is either a
// types.Configuration or a struct that is converted into one.
func (r *ComponentRegistry) New(componentType string, env endpoint.Env, configuration interface{}) (endpoint.Endpoint, error) {
	r.RLock()
	prototype, ok := r.components[componentType]
	r.RUnlock()
	if !ok {
		return nil, fmt.Errorf("component not found. type=%s", componentType)
	}

	config := make(types.Configuration)
	if configuration != nil {
		if c, ok := configuration.(types.Configuration); ok {
			config = c
		} else if err := maps.Map2Struct(configuration, &config); err != nil {
			return nil, err
		}
	}
	ep := prototype.New()
	if err := ep.Init(env, config); err != nil {
		return nil, fmt.Errorf("init %s endpoint: %w", componentType, err)
	}
	return ep, nil
}
