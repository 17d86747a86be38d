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

package handler

import (
	"time"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/router"
)

// Timeout fails requests that have not completed within timeout with 503.
func Timeout(timeout time.Duration) router.Handler {
	return func(ctx *router.RoutingContext) {
		ctx.SetTimeout(timeout)
		_ = ctx.Next()
	}
}

// Logger writes one access log line per request once its response ended.
func Logger(logger types.Logger) router.Handler {
	return func(ctx *router.RoutingContext) {
		log := logger
		if log == nil {
			log = ctx.Router().Logger()
		}
		start := time.Now()
		req := ctx.Request()
		ctx.AddBodyEndHandler(func() {
			resp := ctx.Response()
			log.Printf("%s - %s %s %s %d %d %s",
				req.RemoteAddr, req.Method, req.URL.RequestURI(), req.Proto,
				resp.StatusCode(), resp.BytesWritten(), time.Since(start))
		})
		_ = ctx.Next()
	}
}

// ResponseContentType sets the response Content-Type to the negotiated acceptable
// content type, unless a handler set one.
func ResponseContentType() router.Handler {
	return func(ctx *router.RoutingContext) {
		ctx.AddHeadersEndHandler(func() {
			resp := ctx.Response()
			if resp.GetHeader("Content-Type") != "" {
				return
			}
			if acceptable := ctx.AcceptableContentType(); acceptable != "" {
				resp.PutHeader("Content-Type", acceptable)
			}
		})
		_ = ctx.Next()
	}
}
