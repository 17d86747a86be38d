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

// Package endpoint defines the interface shared by the endpoints that expose the router
// and the event bus to the outside: the HTTP server, the websocket bridge, the MQTT
// bridge and the cron publisher.
//
// Package endpoint 定义端点接口，端点把路由器和事件总线暴露给外部。
package endpoint

import (
	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/router"
)

// Event names passed to OnEvent.
const (
	// EventConnect is raised when a client connection is established.
	EventConnect = "Connect"
	// EventDisconnect is raised when a client connection is closed or lost.
	EventDisconnect = "Disconnect"
	// EventInitServer is raised when the endpoint server is initialized.
	EventInitServer = "InitServer"
	// EventCompletedServer is raised when the endpoint server stopped serving.
	EventCompletedServer = "completedServer"
)

// OnEvent is a callback for endpoint lifecycle events.
//
//	ep.SetOnEvent(func(eventName string, params ...interface{}) {
//	    if eventName == endpoint.EventConnect {
//	        log.Printf("client connected: %v", params[0])
//	    }
//	})
type OnEvent func(eventName string, params ...interface{})

// Env is what an endpoint serves: the shared config, the router and the event bus.
// Endpoints that do not need one of them ignore it.
type Env struct {
	Config types.Config
	Router *router.Router
	Bus    *eventbus.EventBus
}

// Endpoint is a component that moves traffic between the outside and the router or the bus.
type Endpoint interface {
	// Type returns the component type used by the registry.
	Type() string
	// New returns a new, uninitialized instance.
	New() Endpoint
	// Init decodes configuration and binds the endpoint to env.
	Init(env Env, configuration types.Configuration) error
	// Id returns the instance id.
	Id() string
	// SetOnEvent registers the lifecycle listener.
	SetOnEvent(onEvent OnEvent)
	// Start starts serving. It must not block.
	Start() error
	// Close stops serving and releases resources.
	Close() error
}
