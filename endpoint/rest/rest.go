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

// Package rest provides the HTTP server endpoint that serves a router.
// It supports TLS and, without TLS, cleartext HTTP/2 (h2c).
//
// Package rest 提供承载路由器的 HTTP 服务端点，支持 TLS 和明文 HTTP/2（h2c）。
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/router"
	"github.com/rulego/webbus/utils/maps"
)

// Type 组件类型
const Type = "http"

// DefaultShutdownTimeout bounds how long Close waits for in-flight requests.
const DefaultShutdownTimeout = 5 * time.Second

// Endpoint 别名
type Endpoint = Rest

var _ endpoint.Endpoint = (*Rest)(nil)

// Config Rest 服务配置
type Config struct {
	// Server is the listen address, e.g. ":8080". Empty means ":http" or ":https".
	Server      string
	CertFile    string
	CertKeyFile string
	// AllowH2C serves cleartext HTTP/2 when TLS is not configured.
	AllowH2C          bool
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Rest 接收端端点
type Rest struct {
	id      string
	Config  Config
	Env     endpoint.Env
	OnEvent endpoint.OnEvent
	Server  *http.Server

	mu       sync.Mutex
	router   *router.Router
	listener net.Listener
}

// New creates an endpoint serving env.Router on config.Server.
func New(env endpoint.Env, config Config) *Rest {
	uuId, _ := uuid.NewV4()
	return &Rest{id: uuId.String(), Config: config, Env: env, router: env.Router}
}

// Type 组件类型
func (rest *Rest) Type() string {
	return Type
}

func (rest *Rest) New() endpoint.Endpoint {
	uuId, _ := uuid.NewV4()
	return &Rest{id: uuId.String()}
}

// Init decodes configuration into Config. The router comes from env, a new one is
// created when env has none.
func (rest *Rest) Init(env endpoint.Env, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &rest.Config); err != nil {
		return err
	}
	rest.Env = env
	rest.router = env.Router
	return nil
}

func (rest *Rest) Id() string {
	return rest.id
}

func (rest *Rest) SetOnEvent(onEvent endpoint.OnEvent) {
	rest.OnEvent = onEvent
}

// Router returns the served router, creating it on first use.
func (rest *Rest) Router() *router.Router {
	rest.mu.Lock()
	defer rest.mu.Unlock()
	if rest.router == nil {
		rest.router = router.NewWithConfig(rest.Env.Config)
	}
	return rest.router
}

// Addr returns the bound address once started, nil before.
func (rest *Rest) Addr() net.Addr {
	rest.mu.Lock()
	defer rest.mu.Unlock()
	if rest.listener == nil {
		return nil
	}
	return rest.listener.Addr()
}

// Start listens and serves in the background.
func (rest *Rest) Start() error {
	handler := rest.Router()
	rest.mu.Lock()
	if rest.Server != nil {
		rest.mu.Unlock()
		return nil
	}
	isTls := rest.isTls()
	var h http.Handler = handler
	if rest.Config.AllowH2C && !isTls {
		h = h2c.NewHandler(handler, &http2.Server{IdleTimeout: rest.Config.IdleTimeout})
	}
	rest.Server = &http.Server{
		Addr:              rest.Config.Server,
		Handler:           h,
		ReadHeaderTimeout: rest.Config.ReadHeaderTimeout,
		ReadTimeout:       rest.Config.ReadTimeout,
		WriteTimeout:      rest.Config.WriteTimeout,
		IdleTimeout:       rest.Config.IdleTimeout,
	}
	ln, err := rest.listen()
	if err != nil {
		rest.Server = nil
		rest.mu.Unlock()
		return err
	}
	rest.listener = ln
	server := rest.Server
	rest.mu.Unlock()

	if rest.OnEvent != nil {
		rest.OnEvent(endpoint.EventInitServer, rest)
	}
	if isTls {
		rest.Printf("started rest server with TLS on %s", ln.Addr())
	} else {
		rest.Printf("started rest server on %s", ln.Addr())
	}
	go func() {
		defer ln.Close()
		var err error
		if isTls {
			err = server.ServeTLS(ln, rest.Config.CertFile, rest.Config.CertKeyFile)
		} else {
			err = server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			rest.Printf("rest server on %s stopped: %v", ln.Addr(), err)
		}
		if rest.OnEvent != nil {
			rest.OnEvent(endpoint.EventCompletedServer, err)
		}
	}()
	return nil
}

// Close shuts the server down gracefully.
func (rest *Rest) Close() error {
	rest.mu.Lock()
	server := rest.Server
	rest.Server = nil
	rest.listener = nil
	rest.mu.Unlock()
	if server == nil {
		return nil
	}
	timeout := rest.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func (rest *Rest) Printf(format string, v ...interface{}) {
	types.NewLogger(rest.Env.Config.Logger).Printf(format, v...)
}

func (rest *Rest) isTls() bool {
	return rest.Config.CertKeyFile != "" && rest.Config.CertFile != ""
}

func (rest *Rest) listen() (net.Listener, error) {
	addr := rest.Server.Addr
	if addr == "" {
		if rest.isTls() {
			addr = ":https"
		} else {
			addr = ":http"
		}
	}
	return net.Listen("tcp", addr)
}
