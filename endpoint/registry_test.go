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
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/endpoint/rest"
	"github.com/rulego/webbus/endpoint/schedule"
	"github.com/rulego/webbus/endpoint/websocket"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/router"
)

func newTestEnv(t *testing.T) endpoint.Env {
	conf := types.NewConfig(types.WithLogger(types.DiscardLogger()))
	env := endpoint.Env{Config: conf, Router: router.NewWithConfig(conf), Bus: eventbus.NewWithConfig(conf)}
	t.Cleanup(func() { _ = env.Bus.Close() })
	return env
}

// testEndpoint records its lifecycle.
type testEndpoint struct {
	configuration types.Configuration
	log           *[]string
	startErr      error
	closeErr      error
}

func (test *testEndpoint) Type() string {
	return "test"
}

func (test *testEndpoint) New() endpoint.Endpoint {
	return &testEndpoint{log: test.log}
}

func (test *testEndpoint) Init(env endpoint.Env, configuration types.Configuration) error {
	if configuration["fail"] != nil {
		return errors.New("init failed")
	}
	test.configuration = configuration
	return nil
}

func (test *testEndpoint) Id() string {
	if name, ok := test.configuration["name"].(string); ok {
		return name
	}
	return "test"
}

func (test *testEndpoint) SetOnEvent(onEvent endpoint.OnEvent) {}

func (test *testEndpoint) Start() error {
	if test.startErr != nil {
		return test.startErr
	}
	*test.log = append(*test.log, "start "+test.Id())
	return nil
}

func (test *testEndpoint) Close() error {
	*test.log = append(*test.log, "close "+test.Id())
	return test.closeErr
}

func TestRegistry(t *testing.T) {
	env := newTestEnv(t)
	registry := new(ComponentRegistry)
	var log []string

	require.NoError(t, registry.Register(&testEndpoint{log: &log}))
	err := registry.Register(&testEndpoint{})
	assert.EqualError(t, err, "the component already exists. type=test")
	assert.Equal(t, []string{"test"}, registry.Types())

	ep, err := registry.New("test", env, nil)
	require.NoError(t, err)
	assert.Empty(t, ep.(*testEndpoint).configuration)

	ep, err = registry.New("test", env, types.Configuration{"name": "lala"})
	require.NoError(t, err)
	assert.Equal(t, "lala", ep.Id())

	ep, err = registry.New("test", env, struct{ Name string }{Name: "lala"})
	require.NoError(t, err)
	assert.Equal(t, "lala", ep.(*testEndpoint).configuration["Name"])

	_, err = registry.New("test", env, types.Configuration{"fail": true})
	assert.Error(t, err)

	_, err = registry.New("unknown", env, nil)
	assert.EqualError(t, err, "component not found. type=unknown")
	assert.EqualError(t, registry.Unregister("unknown"), "component not found. type=unknown")
	require.NoError(t, registry.Unregister("test"))
	_, err = registry.New("test", env, nil)
	assert.Error(t, err)
}

func TestNewFromRegistry(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, []string{"http", "mqtt", "schedule", "ws"}, Registry.Types())

	ep, err := Registry.New(rest.Type, env, types.Configuration{"server": ":9090"})
	require.NoError(t, err)
	assert.Equal(t, ":9090", ep.(*rest.Endpoint).Config.Server)

	ep, err = Registry.New(websocket.Type, env, types.Configuration{"path": "/bus"})
	require.NoError(t, err)
	assert.Equal(t, "/bus", ep.(*websocket.Endpoint).Config.Path)

	ep, err = Registry.New(schedule.Type, env, types.Configuration{})
	require.NoError(t, err)
	_, ok := ep.(*schedule.Endpoint)
	assert.True(t, ok)
}

func TestGroup(t *testing.T) {
	env := newTestEnv(t)
	var log []string
	group := NewGroup(env)
	group.registry = new(ComponentRegistry)
	require.NoError(t, group.registry.Register(&testEndpoint{log: &log}))

	_, err := group.Add("test", types.Configuration{"name": "a"})
	require.NoError(t, err)
	_, err = group.Add("test", types.Configuration{"name": "b"})
	require.NoError(t, err)
	_, err = group.Add("missing", nil)
	assert.Error(t, err)
	assert.Len(t, group.Endpoints(), 2)

	require.NoError(t, group.Start())
	require.NoError(t, group.Start())
	failing := &testEndpoint{log: &log, startErr: errors.New("port in use"), closeErr: errors.New("close failed")}
	group.Use(failing)
	assert.EqualError(t, group.Start(), "port in use")

	err = group.Close()
	assert.EqualError(t, err, "close failed")
	assert.Equal(t, []string{"start a", "start b", "close test", "close b", "close a"}, log)
	assert.Empty(t, group.Endpoints())
}

func TestGroupServesBridge(t *testing.T) {
	env := newTestEnv(t)
	group := NewGroup(env)
	_, err := group.Add(rest.Type, types.Configuration{"server": "127.0.0.1:0"})
	require.NoError(t, err)
	_, err = group.Add(websocket.Type, nil)
	require.NoError(t, err)
	require.NoError(t, group.Start())
	defer group.Close()

	addr := group.Endpoints()[0].(*rest.Endpoint).Addr().String()
	resp, err := http.Get("http://" + addr + websocket.DefaultPath)
	require.NoError(t, err)
	_ = resp.Body.Close()
	// mounted, but not a websocket handshake
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}
