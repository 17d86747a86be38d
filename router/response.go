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
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
)

// Response builds the single response of a request. It is buffered and sent with a
// Content-Length when ended, unless chunked mode is enabled, in which case every
// Write is flushed to the client immediately.
//
// Headers are kept in a map of the response and copied to the writer when the head is
// written. Header changes made after that, e.g. by a handler still running after the
// request timed out, are dropped.
type Response struct {
	ctx    *RoutingContext
	writer http.ResponseWriter

	// hmu guards header and headerSent. Headers end handlers run while mu is held,
	// so header access must not take mu.
	hmu        sync.Mutex
	header     http.Header
	headerSent bool

	mu          sync.Mutex
	status      int
	chunked     bool
	headWritten bool
	ended       bool
	buf         bytes.Buffer
	written     int64

	headersEndHandlers []func()
	bodyEndHandlers    []func()
}

func newResponse(ctx *RoutingContext, w http.ResponseWriter) *Response {
	return &Response{ctx: ctx, writer: w, status: http.StatusOK, header: make(http.Header)}
}

// SetStatusCode sets the status code. Codes outside 100-999 are sent as 500.
func (r *Response) SetStatusCode(code int) *Response {
	r.mu.Lock()
	r.status = code
	r.mu.Unlock()
	return r
}

// StatusCode returns the status code that is or will be sent.
func (r *Response) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Header returns a copy of the response headers.
func (r *Response) Header() http.Header {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	return r.header.Clone()
}

// GetHeader returns the first value of header name.
func (r *Response) GetHeader(name string) string {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	return r.header.Get(name)
}

// PutHeader sets header name to value. It has no effect once the head is written.
func (r *Response) PutHeader(name, value string) *Response {
	r.updateHeader(func(h http.Header) { h.Set(name, value) })
	return r
}

// AddHeader adds value to header name. It has no effect once the head is written.
func (r *Response) AddHeader(name, value string) *Response {
	r.updateHeader(func(h http.Header) { h.Add(name, value) })
	return r
}

// RemoveHeader deletes header name. It has no effect once the head is written.
func (r *Response) RemoveHeader(name string) *Response {
	r.updateHeader(func(h http.Header) { h.Del(name) })
	return r
}

// AddCookie adds a Set-Cookie header. It has no effect once the head is written.
func (r *Response) AddCookie(cookie *http.Cookie) *Response {
	if v := cookie.String(); v != "" {
		r.AddHeader("Set-Cookie", v)
	}
	return r
}

func (r *Response) updateHeader(fn func(h http.Header)) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	if !r.headerSent {
		fn(r.header)
	}
}

// sealHeader copies the headers to the writer once and freezes them.
func (r *Response) sealHeader(copyToWriter bool) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	if r.headerSent {
		return
	}
	r.headerSent = true
	if copyToWriter {
		dst := r.writer.Header()
		for k, v := range r.header {
			dst[k] = append([]string(nil), v...)
		}
	}
}

// SetChunked switches chunked mode. It has no effect once the head is written.
func (r *Response) SetChunked(chunked bool) *Response {
	r.mu.Lock()
	if !r.headWritten {
		r.chunked = chunked
	}
	r.mu.Unlock()
	return r
}

// IsChunked reports whether chunked mode is on.
func (r *Response) IsChunked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunked
}

// HeadWritten reports whether the status line and headers were sent.
func (r *Response) HeadWritten() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headWritten
}

// Ended reports whether the response ended.
func (r *Response) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// BytesWritten returns the number of body bytes sent or buffered.
func (r *Response) BytesWritten() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// AddHeadersEndHandler registers fn to run right before the head is written.
// fn may only touch headers and cookies.
func (r *Response) AddHeadersEndHandler(fn func()) *Response {
	r.mu.Lock()
	r.headersEndHandlers = append(r.headersEndHandlers, fn)
	r.mu.Unlock()
	return r
}

// AddBodyEndHandler registers fn to run after the response ended.
func (r *Response) AddBodyEndHandler(fn func()) *Response {
	r.mu.Lock()
	r.bodyEndHandlers = append(r.bodyEndHandlers, fn)
	r.mu.Unlock()
	return r
}

// Write appends p to the body. In chunked mode p is sent and flushed right away.
func (r *Response) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return 0, ErrResponseEnded
	}
	r.written += int64(len(p))
	if !r.chunked {
		return r.buf.Write(p)
	}
	r.writeHeadLocked()
	n, err := r.writer.Write(p)
	if f, ok := r.writer.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// WriteString appends s to the body.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// End sends the response and completes the request.
func (r *Response) End() error {
	return r.EndBytes(nil)
}

// EndString writes s and ends the response.
func (r *Response) EndString(s string) error {
	return r.EndBytes([]byte(s))
}

// EndBytes writes b and ends the response.
func (r *Response) EndBytes(b []byte) error {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return ErrResponseEnded
	}
	var err error
	r.written += int64(len(b))
	if r.chunked {
		r.writeHeadLocked()
		if len(b) > 0 {
			_, err = r.writer.Write(b)
		}
	} else {
		r.buf.Write(b)
		if r.ctx.request.Method != http.MethodHead {
			r.PutHeader("Content-Length", strconv.Itoa(r.buf.Len()))
		}
		r.writeHeadLocked()
		if r.buf.Len() > 0 && r.ctx.request.Method != http.MethodHead {
			_, err = r.writer.Write(r.buf.Bytes())
		}
	}
	r.ended = true
	handlers := r.bodyEndHandlers
	r.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
	r.ctx.complete()
	return err
}

// EndJSON encodes v as JSON, sets the content type unless already set, and ends.
func (r *Response) EndJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if r.GetHeader("Content-Type") == "" {
		r.PutHeader("Content-Type", "application/json")
	}
	return r.EndBytes(b)
}

// Redirect ends the response with a 302 to location.
func (r *Response) Redirect(location string) error {
	r.PutHeader("Location", location)
	return r.SetStatusCode(http.StatusFound).End()
}

// Hijack completes the request without writing a response and passes the raw writer
// to fn, for protocol upgrades. fn runs before ServeHTTP returns; anything that
// outlives the request must be started from fn in its own goroutine.
func (r *Response) Hijack(fn func(w http.ResponseWriter, req *http.Request)) error {
	r.mu.Lock()
	if r.ended || r.headWritten {
		r.mu.Unlock()
		return ErrResponseEnded
	}
	r.ended = true
	r.mu.Unlock()
	r.sealHeader(false)

	fn(r.writer, r.ctx.request)
	r.ctx.complete()
	return nil
}

func (r *Response) writeHeadLocked() {
	if r.headWritten {
		return
	}
	r.headWritten = true
	for _, fn := range r.headersEndHandlers {
		fn()
	}
	r.sealHeader(true)
	status := r.status
	if status < 100 || status > 999 {
		status = http.StatusInternalServerError
	}
	r.writer.WriteHeader(status)
}

// endWithStatus sends a plain text status response unless the response already ended.
func (r *Response) endWithStatus(status int) error {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return ErrResponseEnded
	}
	if r.headWritten {
		r.mu.Unlock()
		return r.End()
	}
	r.status = status
	r.buf.Reset()
	r.written = 0
	r.PutHeader("Content-Type", "text/plain; charset=utf-8")
	r.mu.Unlock()
	return r.EndString(statusText(status))
}

// abandon marks the response ended without writing anything.
func (r *Response) abandon() {
	r.mu.Lock()
	r.ended = true
	r.mu.Unlock()
	r.sealHeader(false)
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return http.StatusText(http.StatusInternalServerError)
}
