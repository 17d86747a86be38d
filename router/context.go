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
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/utils/runtime"
)

// FileUpload describes a file received in a multipart request and saved to disk.
type FileUpload struct {
	// Name is the form field name.
	Name string
	// FileName is the file name sent by the client.
	FileName string
	// ContentType is the content type sent by the client.
	ContentType string
	// Size is the size in bytes.
	Size int64
	// UploadedFileName is the path of the saved file.
	UploadedFileName string
}

// RoutingContext is the state of one request while it travels the route chain.
// Every handler of the request, including failure handlers and handlers reached
// through Reroute, sees the same context.
//
// RoutingContext 是请求在路由链中流转时的状态，链上所有处理器共享同一个上下文。
type RoutingContext struct {
	router   *Router
	request  *http.Request
	response *Response
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu         sync.Mutex
	method     string
	path       string
	query      url.Values
	params     map[string]string
	routes     []*Route
	cursor     int
	current    *Route
	failed     bool
	statusCode int
	failure    error
	acceptable string
	// awaiting is true while the current handler has not resumed the chain yet
	awaiting bool
	// running is true while a goroutine drives the chain, pending asks it for one more step
	running   bool
	pending   bool
	completed bool
	timer     *time.Timer

	dataMu  sync.RWMutex
	data    map[string]interface{}
	session types.Session
	user    types.User
	body    []byte
	uploads []FileUpload
}

func newRoutingContext(r *Router, w http.ResponseWriter, req *http.Request) *RoutingContext {
	ctx, cancel := context.WithCancel(req.Context())
	c := &RoutingContext{
		router:     r,
		request:    req,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		method:     req.Method,
		path:       NormalizePath(req.URL.Path),
		query:      req.URL.Query(),
		routes:     r.snapshot(),
		statusCode: StatusUnknown,
		data:       make(map[string]interface{}),
	}
	c.response = newResponse(c, w)
	return c
}

// Router returns the router dispatching the request.
func (c *RoutingContext) Router() *Router {
	return c.router
}

// Request returns the HTTP request.
func (c *RoutingContext) Request() *http.Request {
	return c.request
}

// Response returns the response of the request.
func (c *RoutingContext) Response() *Response {
	return c.response
}

// Context is cancelled when the client goes away or the request completes.
func (c *RoutingContext) Context() context.Context {
	return c.ctx
}

// Done is closed once the request completed.
func (c *RoutingContext) Done() <-chan struct{} {
	return c.done
}

// Method returns the current method, which Reroute may have changed.
func (c *RoutingContext) Method() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.method
}

// Path returns the current normalized path, which Reroute may have changed.
func (c *RoutingContext) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// PathParam returns the path parameter name bound by the current route.
func (c *RoutingContext) PathParam(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[name]
}

// PathParams returns a copy of the path parameters bound by the current route.
func (c *RoutingContext) PathParams() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	params := make(map[string]string, len(c.params))
	for k, v := range c.params {
		params[k] = v
	}
	return params
}

// QueryParam returns the first value of query parameter name.
func (c *RoutingContext) QueryParam(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query.Get(name)
}

// QueryParams returns all values of query parameter name.
func (c *RoutingContext) QueryParams(name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.query[name]...)
}

// Header returns the first value of request header name.
func (c *RoutingContext) Header(name string) string {
	return c.request.Header.Get(name)
}

// AcceptableContentType returns the content type negotiated by the last route that
// declared Produces, or "".
func (c *RoutingContext) AcceptableContentType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptable
}

// CurrentRoute returns the route whose handler is running.
func (c *RoutingContext) CurrentRoute() *Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Failed reports whether the context is in failure mode.
func (c *RoutingContext) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// StatusCode returns the failure status code, StatusUnknown when the failure was a
// panic or an error without code, or when the context did not fail.
func (c *RoutingContext) StatusCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCode
}

// Failure returns the failure cause, if any.
func (c *RoutingContext) Failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Put stores value under key in the data bag.
func (c *RoutingContext) Put(key string, value interface{}) *RoutingContext {
	c.dataMu.Lock()
	c.data[key] = value
	c.dataMu.Unlock()
	return c
}

// Get returns the value stored under key.
func (c *RoutingContext) Get(key string) (interface{}, bool) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Remove deletes key from the data bag and returns its value.
func (c *RoutingContext) Remove(key string) interface{} {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	v := c.data[key]
	delete(c.data, key)
	return v
}

// Data returns a copy of the data bag.
func (c *RoutingContext) Data() map[string]interface{} {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	data := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		data[k] = v
	}
	return data
}

// GetAs returns the value stored under key if it has type T.
func GetAs[T any](c *RoutingContext, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Cookie returns the request cookie name, or nil.
func (c *RoutingContext) Cookie(name string) *http.Cookie {
	cookie, err := c.request.Cookie(name)
	if err != nil {
		return nil
	}
	return cookie
}

// AddCookie adds cookie to the response.
func (c *RoutingContext) AddCookie(cookie *http.Cookie) *RoutingContext {
	c.response.AddCookie(cookie)
	return c
}

// RemoveCookie expires cookie name on the client.
func (c *RoutingContext) RemoveCookie(name string) *RoutingContext {
	c.response.AddCookie(&http.Cookie{Name: name, Path: "/", MaxAge: -1})
	return c
}

// Session returns the session attached by the session handler, or nil.
func (c *RoutingContext) Session() types.Session {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.session
}

// SetSession attaches session to the context.
func (c *RoutingContext) SetSession(session types.Session) {
	c.dataMu.Lock()
	c.session = session
	c.dataMu.Unlock()
}

// User returns the authenticated user, or nil.
func (c *RoutingContext) User() types.User {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.user
}

// SetUser sets the authenticated user.
func (c *RoutingContext) SetUser(user types.User) {
	c.dataMu.Lock()
	c.user = user
	c.dataMu.Unlock()
}

// ClearUser logs the user out of the context.
func (c *RoutingContext) ClearUser() {
	c.SetUser(nil)
}

// Body returns the request body read by the body handler, or nil.
func (c *RoutingContext) Body() []byte {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.body
}

// SetBody sets the buffered request body.
func (c *RoutingContext) SetBody(body []byte) {
	c.dataMu.Lock()
	c.body = body
	c.dataMu.Unlock()
}

// BodyAsString returns the buffered body as a string.
func (c *RoutingContext) BodyAsString() string {
	return string(c.Body())
}

// BodyAsJSON decodes the buffered body into v.
func (c *RoutingContext) BodyAsJSON(v interface{}) error {
	return json.Unmarshal(c.Body(), v)
}

// FileUploads returns the files of a multipart request read by the body handler.
func (c *RoutingContext) FileUploads() []FileUpload {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return append([]FileUpload(nil), c.uploads...)
}

// SetFileUploads sets the uploaded files.
func (c *RoutingContext) SetFileUploads(uploads []FileUpload) {
	c.dataMu.Lock()
	c.uploads = uploads
	c.dataMu.Unlock()
}

// AddHeadersEndHandler registers fn to run right before the response head is written.
func (c *RoutingContext) AddHeadersEndHandler(fn func()) {
	c.response.AddHeadersEndHandler(fn)
}

// AddBodyEndHandler registers fn to run after the response ended.
func (c *RoutingContext) AddBodyEndHandler(fn func()) {
	c.response.AddBodyEndHandler(fn)
}

// Next resumes the chain with the next matching route.
// It may be called from any goroutine, once per handler.
func (c *RoutingContext) Next() error {
	return c.resume(func() {})
}

// Fail switches the context to failure mode with status code.
func (c *RoutingContext) Fail(code int) error {
	return c.FailWithError(code, nil)
}

// FailErr switches the context to failure mode with cause err and StatusUnknown.
func (c *RoutingContext) FailErr(err error) error {
	return c.FailWithError(StatusUnknown, err)
}

// FailWithError switches the context to failure mode with status code and cause err.
// Called from a failure handler it moves on to the next failure handler.
func (c *RoutingContext) FailWithError(code int, err error) error {
	return c.resume(func() {
		c.failLocked(code, err)
	})
}

// Reroute restarts the chain for path, keeping the method and the data bag.
func (c *RoutingContext) Reroute(path string) error {
	return c.RerouteMethod(c.Method(), path)
}

// RerouteMethod restarts the chain for method and path, keeping the data bag.
// Path parameters are bound again by the routes matching the new path.
func (c *RoutingContext) RerouteMethod(method, path string) error {
	return c.resume(func() {
		if p, rawQuery, ok := strings.Cut(path, "?"); ok {
			path = p
			if q, err := url.ParseQuery(rawQuery); err == nil {
				c.query = q
			}
		}
		c.method = strings.ToUpper(method)
		c.path = NormalizePath(path)
		c.params = nil
		c.routes = c.router.snapshot()
		c.cursor = 0
		c.failed = false
		c.statusCode = StatusUnknown
		c.failure = nil
		c.acceptable = ""
	})
}

// SetTimeout fails the request with 503 if it has not completed within d. It replaces
// any timeout set before.
func (c *RoutingContext) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, c.onTimeout)
}

func (c *RoutingContext) failLocked(code int, err error) {
	if !c.failed {
		c.failed = true
		c.cursor = 0
	}
	c.statusCode = code
	c.failure = err
}

func (c *RoutingContext) start() {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.iterate()
}

func (c *RoutingContext) resume(mutate func()) error {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return ErrRequestCompleted
	}
	if !c.awaiting {
		c.mu.Unlock()
		return ErrAlreadyResumed
	}
	c.awaiting = false
	mutate()
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()
	c.iterate()
	return nil
}

// iterate drives the chain until a handler returns without resuming it.
// Handlers resuming synchronously only set pending, so the chain never recurses.
func (c *RoutingContext) iterate() {
	for {
		c.mu.Lock()
		if c.completed {
			c.running, c.pending = false, false
			c.mu.Unlock()
			return
		}
		route, params, acceptable := c.nextLocked()
		if route == nil {
			// running stays true: the chain is over
			failed, status := c.failed, c.statusCode
			c.mu.Unlock()
			c.finish(failed, status)
			return
		}
		c.params = params
		if acceptable != "" {
			c.acceptable = acceptable
		}
		c.current = route
		c.awaiting = true
		c.mu.Unlock()

		if route.kind == KindBlocking {
			c.dispatchBlocking(route)
		} else {
			c.invoke(route)
		}

		c.mu.Lock()
		if c.pending {
			c.pending = false
			c.mu.Unlock()
			continue
		}
		c.running = false
		c.mu.Unlock()
		return
	}
}

func (c *RoutingContext) nextLocked() (*Route, map[string]string, string) {
	for c.cursor < len(c.routes) {
		route := c.routes[c.cursor]
		c.cursor++
		if route.isRemoved() || (route.kind == KindFailure) != c.failed {
			continue
		}
		if params, acceptable, ok := route.match(c); ok {
			return route, params, acceptable
		}
	}
	return nil, nil, ""
}

func (c *RoutingContext) dispatchBlocking(route *Route) {
	err := c.router.config.BlockingPool.SubmitWait(c.ctx, func() {
		c.invoke(route)
	})
	if err == nil {
		return
	}
	c.router.logger.Printf("route %s can not run blocking handler: %v", route, err)
	c.mu.Lock()
	if c.awaiting && !c.completed {
		c.awaiting = false
		c.failLocked(http.StatusServiceUnavailable, err)
		c.pending = true
	}
	c.mu.Unlock()
}

func (c *RoutingContext) invoke(route *Route) {
	defer func() {
		if v := recover(); v != nil {
			c.recovered(route, v)
		}
	}()
	route.handler(c)
}

func (c *RoutingContext) recovered(route *Route, v interface{}) {
	stack := runtime.Stack()
	c.router.logger.Printf("route %s handler panic: %v\n%s", route, v, stack)
	if route.kind == KindFailure {
		_ = c.response.endWithStatus(http.StatusInternalServerError)
		return
	}
	cause := &PanicError{Value: v, Stack: stack}
	_ = c.resume(func() {
		c.failLocked(StatusUnknown, cause)
	})
}

// finish ends a request that no handler ended: 404 when nothing failed, otherwise the
// failure code if it is an HTTP error status, or 500.
func (c *RoutingContext) finish(failed bool, status int) {
	final := http.StatusNotFound
	if failed {
		final = http.StatusInternalServerError
		if status >= 400 && status <= 599 {
			final = status
		}
	}
	c.mu.Lock()
	c.statusCode = final
	c.mu.Unlock()

	h := c.router.errorHandler(final)
	if h == nil {
		_ = c.response.endWithStatus(final)
		return
	}
	func() {
		defer func() {
			if v := recover(); v != nil {
				c.router.logger.Printf("error handler %d panic: %v\n%s", final, v, runtime.Stack())
				_ = c.response.endWithStatus(http.StatusInternalServerError)
			}
		}()
		c.response.SetStatusCode(final)
		h(c)
	}()
}

func (c *RoutingContext) onTimeout() {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return
	}
	if c.running {
		// a handler holds the chain, answer without running failure handlers
		c.mu.Unlock()
		_ = c.response.endWithStatus(http.StatusServiceUnavailable)
		return
	}
	c.awaiting = false
	c.failLocked(http.StatusServiceUnavailable, ErrRequestTimeout)
	c.running = true
	c.mu.Unlock()
	c.iterate()
}

func (c *RoutingContext) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.completed = true
	c.awaiting = false
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.done)
}

// abandon completes the request without writing, the client is gone.
func (c *RoutingContext) abandon() {
	c.response.abandon()
	c.complete()
}
