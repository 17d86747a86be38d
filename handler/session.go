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

// Package handler provides reusable route handlers: body buffering, sessions,
// authentication, static files, timeouts and access logging.
//
// Package handler 提供可复用的路由处理器。
package handler

import (
	"net/http"
	"time"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/router"
)

// DefaultSessionCookieName is the name of the session cookie.
const DefaultSessionCookieName = "webbus.session"

// SessionOptions configure the session handler.
type SessionOptions struct {
	// CookieName defaults to DefaultSessionCookieName.
	CookieName string
	// CookiePath defaults to "/".
	CookiePath string
	// Timeout is the idle timeout of new sessions, DefaultSessionTimeout when zero.
	Timeout        time.Duration
	CookieSecure   bool
	CookieHTTPOnly bool
	SameSite       http.SameSite
}

// Session attaches a session to every request, restored from the session cookie or
// created. The session is stored and its cookie set right before the response head is
// written; a destroyed session is removed from store and its cookie expired.
func Session(store types.SessionStore, opts SessionOptions) router.Handler {
	if opts.CookieName == "" {
		opts.CookieName = DefaultSessionCookieName
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSessionTimeout
	}
	return func(ctx *router.RoutingContext) {
		if ctx.Session() != nil {
			_ = ctx.Next()
			return
		}
		var session types.Session
		var existing bool
		if cookie := ctx.Cookie(opts.CookieName); cookie != nil && cookie.Value != "" {
			s, err := store.Get(ctx.Context(), cookie.Value)
			if err != nil {
				_ = ctx.FailWithError(http.StatusInternalServerError, err)
				return
			}
			if s != nil {
				session, existing = s, true
			}
		}
		if session == nil {
			session = store.CreateSession(opts.Timeout)
		}
		session.SetAccessed()
		ctx.SetSession(session)

		ctx.AddHeadersEndHandler(func() {
			cookie := &http.Cookie{
				Name:     opts.CookieName,
				Value:    session.Id(),
				Path:     opts.CookiePath,
				Secure:   opts.CookieSecure,
				HttpOnly: opts.CookieHTTPOnly,
				SameSite: opts.SameSite,
			}
			if session.IsDestroyed() {
				_ = store.Remove(ctx.Context(), session.Id())
				if existing {
					cookie.Value = ""
					cookie.MaxAge = -1
					ctx.Response().AddCookie(cookie)
				}
				return
			}
			if err := store.Put(ctx.Context(), session); err != nil {
				ctx.Router().Logger().Printf("store session %s error: %v", session.Id(), err)
				return
			}
			if !existing {
				ctx.Response().AddCookie(cookie)
			}
		})
		_ = ctx.Next()
	}
}
