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

package router

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Handler processes a request. It must either end the response, resume the chain with
// Next or Reroute, fail the context, or arrange for one of those to happen later.
type Handler func(ctx *RoutingContext)

// HandlerKind tells how the router runs a route's handler.
type HandlerKind int

const (
	// KindNormal handlers run on the goroutine driving the chain.
	KindNormal HandlerKind = iota
	// KindBlocking handlers run on the router's blocking pool.
	KindBlocking
	// KindFailure handlers only run once the context failed.
	KindFailure
)

func (k HandlerKind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindBlocking:
		return "blocking"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("HandlerKind(%d)", int(k))
	}
}

// Route is an immutable matcher set plus its handler. Routes are evaluated in
// registration order and the first match wins.
type Route struct {
	id        uint64
	router    *Router
	methods   map[string]struct{}
	pattern   *pathPattern
	consumes  []mediaType
	produces  []mediaType
	condition *condition
	kind      HandlerKind
	handler   Handler
	removed   int32
}

// Path returns the path pattern the route was registered with, "" when it matches any path.
func (r *Route) Path() string {
	if r.pattern == nil {
		return ""
	}
	return r.pattern.raw
}

// PathPrefix returns the normalized prefix of a prefix route, "" for other routes.
func (r *Route) PathPrefix() string {
	if r.pattern == nil || !r.pattern.prefix || r.pattern.hasParams {
		return ""
	}
	return r.pattern.base
}

// Methods returns the methods the route matches, nil when it matches every method.
func (r *Route) Methods() []string {
	if r.methods == nil {
		return nil
	}
	methods := make([]string, 0, len(r.methods))
	for m := range r.methods {
		methods = append(methods, m)
	}
	return methods
}

// Kind returns the handler kind.
func (r *Route) Kind() HandlerKind {
	return r.kind
}

// Remove unregisters the route. Requests already dispatching skip it from now on.
// It returns false if the route was already removed.
func (r *Route) Remove() bool {
	if !atomic.CompareAndSwapInt32(&r.removed, 0, 1) {
		return false
	}
	r.router.remove(r)
	return true
}

func (r *Route) isRemoved() bool {
	return atomic.LoadInt32(&r.removed) == 1
}

func (r *Route) String() string {
	var methods string
	if r.methods == nil {
		methods = "*"
	} else {
		methods = strings.Join(r.Methods(), ",")
	}
	path := r.Path()
	if path == "" {
		path = "*"
	}
	return fmt.Sprintf("%s %s [%s]", methods, path, r.kind)
}

// match evaluates the matchers against the current state of ctx. The caller holds ctx.mu.
func (r *Route) match(ctx *RoutingContext) (params map[string]string, acceptable string, ok bool) {
	if r.methods != nil {
		if _, found := r.methods[ctx.method]; !found {
			return nil, "", false
		}
	}
	if r.pattern != nil {
		if params, ok = r.pattern.match(ctx.path); !ok {
			return nil, "", false
		}
	}
	// failure routes match by method and path only
	if r.kind == KindFailure {
		return params, "", true
	}
	if len(r.consumes) > 0 && !consumes(r.consumes, ctx.request.Header.Get("Content-Type")) {
		return nil, "", false
	}
	if len(r.produces) > 0 {
		if acceptable, ok = negotiate(r.produces, ctx.request.Header.Get("Accept")); !ok {
			return nil, "", false
		}
	}
	if r.condition != nil {
		result, err := r.condition.eval(ctx.method, ctx.path, ctx.query, params, ctx.request)
		if err != nil {
			ctx.router.logger.Printf("route %s condition %q error: %v", r, r.condition.source, err)
		}
		if !result {
			return nil, "", false
		}
	}
	return params, acceptable, true
}

// RouteBuilder collects matchers for one or more routes. Each terminal call registers a
// new Route with the matchers collected so far.
//
//	router.Get("/catalogue/products/:type/:id").Produces("application/json").Handler(h)
type RouteBuilder struct {
	router    *Router
	methods   []string
	path      *string
	consumes  []string
	produces  []string
	condition string
}

// Method adds methods to match. No method matches all methods.
func (b *RouteBuilder) Method(methods ...string) *RouteBuilder {
	for _, m := range methods {
		b.methods = append(b.methods, strings.ToUpper(m))
	}
	return b
}

// Path sets the path pattern: exact "/a/b", prefix "/a/*" or parameterized "/a/:id".
func (b *RouteBuilder) Path(path string) *RouteBuilder {
	b.path = &path
	return b
}

// Consumes adds content types the request body may have, wildcards allowed.
func (b *RouteBuilder) Consumes(contentTypes ...string) *RouteBuilder {
	b.consumes = append(b.consumes, contentTypes...)
	return b
}

// Produces adds content types the route can produce, negotiated against Accept.
func (b *RouteBuilder) Produces(contentTypes ...string) *RouteBuilder {
	b.produces = append(b.produces, contentTypes...)
	return b
}

// Condition sets a boolean expression the request must satisfy.
func (b *RouteBuilder) Condition(expression string) *RouteBuilder {
	b.condition = expression
	return b
}

// Handler registers h as a normal handler. It panics if the builder is invalid.
func (b *RouteBuilder) Handler(h Handler) *Route {
	return b.mustRegister(KindNormal, h)
}

// BlockingHandler registers h to run on the blocking pool. It panics if the builder is invalid.
func (b *RouteBuilder) BlockingHandler(h Handler) *Route {
	return b.mustRegister(KindBlocking, h)
}

// FailureHandler registers h as a failure handler. It panics if the builder is invalid.
func (b *RouteBuilder) FailureHandler(h Handler) *Route {
	return b.mustRegister(KindFailure, h)
}

func (b *RouteBuilder) mustRegister(kind HandlerKind, h Handler) *Route {
	route, err := b.Register(kind, h)
	if err != nil {
		panic(err)
	}
	return route
}

// Register builds and registers a route of kind with handler h.
func (b *RouteBuilder) Register(kind HandlerKind, h Handler) (*Route, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	route := &Route{router: b.router, kind: kind, handler: h}
	if len(b.methods) > 0 {
		route.methods = make(map[string]struct{}, len(b.methods))
		for _, m := range b.methods {
			route.methods[m] = struct{}{}
		}
	}
	if b.path != nil {
		pattern, err := compilePattern(*b.path)
		if err != nil {
			return nil, err
		}
		route.pattern = pattern
	}
	route.consumes = parseMediaTypes(b.consumes)
	if len(b.consumes) > 0 && len(route.consumes) == 0 {
		return nil, fmt.Errorf("invalid consumes %v", b.consumes)
	}
	route.produces = parseMediaTypes(b.produces)
	if len(b.produces) > 0 && len(route.produces) == 0 {
		return nil, fmt.Errorf("invalid produces %v", b.produces)
	}
	if b.condition != "" {
		c, err := compileCondition(b.condition)
		if err != nil {
			return nil, err
		}
		route.condition = c
	}
	b.router.add(route)
	return route, nil
}
