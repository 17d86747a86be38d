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

// Package router dispatches HTTP requests to an ordered chain of handlers.
//
// Routes are matched in registration order by method, path pattern, content type
// negotiation and an optional expression condition. Every handler of a request shares
// one RoutingContext and resumes the chain explicitly with Next, Reroute or Fail, or ends
// it by ending the response. A failed context runs the failure handlers that match its
// method and path.
//
// Package router 将 HTTP 请求分发到有序的处理器链。
//
//	r := router.New()
//	r.Get("/catalogue/products/:type/:id").Handler(func(ctx *router.RoutingContext) {
//		_ = ctx.Response().EndString(ctx.PathParam("id"))
//	})
//	r.Route().Path("/*").FailureHandler(func(ctx *router.RoutingContext) {
//		_ = ctx.Response().SetStatusCode(500).EndString("oops")
//	})
//	http.ListenAndServe(":9090", r)
package router

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rulego/webbus/api/types"
)

// Router is an http.Handler. Routes may be added and removed while serving.
type Router struct {
	config types.Config
	logger types.Logger

	mu     sync.Mutex
	routes atomic.Value // []*Route
	nextID uint64
	// errorHandlers maps a final status to its last resort handler
	errorHandlers atomic.Value // map[int]Handler
}

// New creates a router configured by opts.
func New(opts ...types.Option) *Router {
	return NewWithConfig(types.NewConfig(opts...))
}

// NewWithConfig creates a router sharing config, typically with an event bus.
func NewWithConfig(config types.Config) *Router {
	if config.BlockingPool == nil {
		config.BlockingPool = types.NewBoundedPool(types.DefaultBlockingPoolSize)
	}
	r := &Router{config: config, logger: types.NewLogger(config.Logger)}
	r.routes.Store([]*Route(nil))
	r.errorHandlers.Store(map[int]Handler{})
	return r
}

// Config returns the router configuration.
func (r *Router) Config() types.Config {
	return r.config
}

// Logger returns the router logger.
func (r *Router) Logger() types.Logger {
	return r.logger
}

// Route starts a route matching every method and path.
func (r *Router) Route() *RouteBuilder {
	return &RouteBuilder{router: r}
}

// RouteMethod starts a route matching method and path.
func (r *Router) RouteMethod(method, path string) *RouteBuilder {
	return r.Route().Method(method).Path(path)
}

func (r *Router) Get(path string) *RouteBuilder {
	return r.RouteMethod(http.MethodGet, path)
}

func (r *Router) Post(path string) *RouteBuilder {
	return r.RouteMethod(http.MethodPost, path)
}

func (r *Router) Put(path string) *RouteBuilder {
	return r.RouteMethod(http.MethodPut, path)
}

func (r *Router) Delete(path string) *RouteBuilder {
	return r.RouteMethod(http.MethodDelete, path)
}

func (r *Router) Patch(path string) *RouteBuilder {
	return r.RouteMethod(http.MethodPatch, path)
}

func (r *Router) Head(path string) *RouteBuilder {
	return r.RouteMethod(http.MethodHead, path)
}

func (r *Router) Options(path string) *RouteBuilder {
	return r.RouteMethod(http.MethodOptions, path)
}

// Routes returns a snapshot of the registered routes in evaluation order.
func (r *Router) Routes() []*Route {
	routes := r.snapshot()
	result := make([]*Route, len(routes))
	copy(result, routes)
	return result
}

// ErrorHandler installs h as the last resort handler for requests that finish with
// status: unmatched requests (404) and failures no failure handler ended.
// A nil h removes it.
func (r *Router) ErrorHandler(status int, h Handler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.errorHandlers.Load().(map[int]Handler)
	next := make(map[int]Handler, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	if h == nil {
		delete(next, status)
	} else {
		next[status] = h
	}
	r.errorHandlers.Store(next)
	return r
}

// Clear removes every route.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, route := range r.snapshot() {
		atomic.StoreInt32(&route.removed, 1)
	}
	r.routes.Store([]*Route(nil))
}

// ServeHTTP dispatches req through the route chain and returns once exactly one
// response has been written, or the client went away.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := newRoutingContext(r, w, req)
	defer ctx.cancel()
	if r.config.RequestTimeout > 0 {
		ctx.SetTimeout(r.config.RequestTimeout)
	}
	ctx.start()
	select {
	case <-ctx.done:
	case <-req.Context().Done():
		ctx.abandon()
	}
}

func (r *Router) snapshot() []*Route {
	return r.routes.Load().([]*Route)
}

func (r *Router) errorHandler(status int) Handler {
	return r.errorHandlers.Load().(map[int]Handler)[status]
}

func (r *Router) add(route *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	route.id = r.nextID
	current := r.snapshot()
	next := make([]*Route, len(current), len(current)+1)
	copy(next, current)
	r.routes.Store(append(next, route))
}

func (r *Router) remove(route *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.snapshot()
	next := make([]*Route, 0, len(current))
	for _, item := range current {
		if item != route {
			next = append(next, item)
		}
	}
	r.routes.Store(next)
}
