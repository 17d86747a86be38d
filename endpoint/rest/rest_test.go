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

package rest

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/router"
)

func newTestEnv() endpoint.Env {
	config := types.NewConfig(types.WithLogger(types.DiscardLogger()))
	return endpoint.Env{Config: config, Router: router.NewWithConfig(config)}
}

func protoHandler(ctx *router.RoutingContext) {
	_ = ctx.Response().EndString(ctx.Request().Proto)
}

func TestRestServe(t *testing.T) {
	env := newTestEnv()
	env.Router.Get("/proto").Handler(protoHandler)

	events := make(chan string, 2)
	rest := New(env, Config{Server: "127.0.0.1:0"})
	rest.SetOnEvent(func(eventName string, params ...interface{}) {
		events <- eventName
	})
	require.NoError(t, rest.Start())
	require.NotNil(t, rest.Addr())

	resp, err := http.Get("http://" + rest.Addr().String() + "/proto")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP/1.1", string(body))

	resp, err = http.Get("http://" + rest.Addr().String() + "/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, rest.Close())
	assert.Nil(t, rest.Addr())
	assert.Equal(t, endpoint.EventInitServer, <-events)
	assert.Equal(t, endpoint.EventCompletedServer, <-events)
}

func TestRestH2C(t *testing.T) {
	env := newTestEnv()
	env.Router.Get("/proto").Handler(protoHandler)
	rest := New(env, Config{Server: "127.0.0.1:0", AllowH2C: true})
	require.NoError(t, rest.Start())
	defer rest.Close()

	client := &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
			return net.Dial(network, addr)
		},
	}}
	resp, err := client.Get("http://" + rest.Addr().String() + "/proto")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, 2, resp.ProtoMajor)
	assert.Equal(t, "HTTP/2.0", string(body))
}

func TestRestInit(t *testing.T) {
	rest := (&Rest{}).New().(*Rest)
	assert.Equal(t, Type, rest.Type())
	assert.NotEmpty(t, rest.Id())

	err := rest.Init(endpoint.Env{}, types.Configuration{
		"server":      "127.0.0.1:0",
		"allowH2C":    "true",
		"readTimeout": "3s",
	})
	require.NoError(t, err)
	assert.True(t, rest.Config.AllowH2C)
	assert.Equal(t, "3s", rest.Config.ReadTimeout.String())

	// without a router in env one is created on demand
	rest.Router().Get("/ok").Handler(func(ctx *router.RoutingContext) {
		_ = ctx.Response().EndString("ok")
	})
	require.NoError(t, rest.Start())
	defer rest.Close()
	resp, err := http.Get("http://" + rest.Addr().String() + "/ok")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRestListenError(t *testing.T) {
	rest := New(newTestEnv(), Config{Server: "bad-address"})
	assert.Error(t, rest.Start())
	assert.NoError(t, rest.Close())
}
