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

package eventbus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/router"
)

// newRequestRouter routes /call/:address to a bus request whose reply resumes the chain.
func newRequestRouter(bus *EventBus) *router.Router {
	r := router.New(types.WithLogger(types.DiscardLogger()))
	r.Get("/call/:address").Handler(func(ctx *router.RoutingContext) {
		err := bus.Request(ctx.PathParam("address"), "y", func(reply *Message, err error) {
			if err != nil {
				_ = ctx.FailErr(err)
				return
			}
			ctx.Put("reply", reply.Body())
			_ = ctx.Next()
		}, WithTimeout(50*time.Millisecond))
		if err != nil {
			_ = ctx.FailErr(err)
		}
	})
	r.Get("/call/:address").Handler(func(ctx *router.RoutingContext) {
		v, _ := router.GetAs[string](ctx, "reply")
		_ = ctx.Response().EndString(v)
	})
	r.Route().FailureHandler(func(ctx *router.RoutingContext) {
		var replyErr *ReplyError
		if errors.As(ctx.Failure(), &replyErr) {
			_ = ctx.Response().SetStatusCode(http.StatusServiceUnavailable).EndString(replyErr.Type.String())
			return
		}
		_ = ctx.Next()
	})
	return r
}

func TestRequestFromRoute(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	bus.Consumer("upper", func(msg *Message) {
		_ = msg.Reply(strings.ToUpper(msg.Body().(string)))
	})
	bus.Consumer("silent", func(msg *Message) {})
	r := newRequestRouter(bus)

	call := func(address string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/call/"+address, nil))
		return w
	}

	w := call("upper")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Y", w.Body.String())

	w = call("nowhere")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, NoHandlers.String(), w.Body.String())

	w = call("silent")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, Timeout.String(), w.Body.String())
}

func TestRequestFromRouteWithoutFailureHandler(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	r := router.New(types.WithLogger(types.DiscardLogger()))
	r.Get("/call").Handler(func(ctx *router.RoutingContext) {
		_ = bus.Request("nowhere", nil, func(reply *Message, err error) {
			_ = ctx.FailErr(err)
		})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/call", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
