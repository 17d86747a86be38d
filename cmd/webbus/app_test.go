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

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/config"
	"github.com/rulego/webbus/endpoint/rest"
	bridge "github.com/rulego/webbus/endpoint/websocket"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/handler"
)

func writeSettings(t *testing.T) (configFile, webRoot string) {
	dir := t.TempDir()
	webRoot = filepath.Join(dir, "webroot")
	require.NoError(t, os.MkdirAll(webRoot, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(webRoot, "index.html"), []byte("<h1>webbus</h1>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(webRoot, "login.html"), []byte("<form>login</form>"), 0644))

	hash, err := handler.HashPassword("secret")
	require.NoError(t, err)
	configFile = filepath.Join(dir, "webbus.yaml")
	yaml := fmt.Sprintf(`server: ":0"
webRoot: %q
requestTimeout: 2s
uploadsDirectory: %q
auth:
  user.tim: "%s,admin"
  role.admin: "*"
`, webRoot, filepath.Join(dir, "uploads"), hash)
	require.NoError(t, os.WriteFile(configFile, []byte(yaml), 0644))
	return configFile, webRoot
}

func testSettings(t *testing.T) Settings {
	configFile, _ := writeSettings(t)
	t.Setenv("WEBBUS_SERVER", "127.0.0.1:0")
	r, err := newRetriever(configFile, 0, types.DiscardLogger())
	require.NoError(t, err)
	defer r.Close()
	s, err := loadSettings(context.Background(), r)
	require.NoError(t, err)
	return s
}

func newTestApp(t *testing.T) *app {
	a, err := newApp(testSettings(t), types.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })
	return a
}

func TestLoadSettings(t *testing.T) {
	configFile, webRoot := writeSettings(t)
	t.Setenv("WEBBUS_SERVER", "127.0.0.1:9999")
	t.Setenv("WEBBUS_REPLY_TIMEOUT", "3s")
	r, err := newRetriever(configFile, 0, types.DiscardLogger())
	require.NoError(t, err)
	defer r.Close()

	s, err := loadSettings(context.Background(), r)
	require.NoError(t, err)
	// env over file over defaults
	assert.Equal(t, "127.0.0.1:9999", s.Server)
	assert.Equal(t, 3*time.Second, s.ReplyTimeout)
	assert.Equal(t, 2*time.Second, s.RequestTimeout)
	assert.Equal(t, webRoot, s.WebRoot)
	assert.Equal(t, types.DefaultBlockingPoolSize, s.BlockingPoolSize)
	assert.Equal(t, int64(handler.DefaultBodyLimit), s.BodyLimit)
	assert.Equal(t, handler.DefaultSessionTimeout, s.SessionTimeout)
	assert.Equal(t, "*", s.Auth["role.admin"])
	assert.Equal(t, bridge.DefaultPath, s.Bridge["path"])
	assert.Empty(t, s.Mqtt)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	r, err := newRetriever(filepath.Join(t.TempDir(), "missing.yaml"), 0, types.DiscardLogger())
	require.NoError(t, err)
	defer r.Close()
	_, err = loadSettings(context.Background(), r)
	assert.Error(t, err)
}

func TestAcceptor(t *testing.T) {
	a := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/api/event", nil)
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"worker":"worker message"}`, w.Body.String())
}

func TestAcceptorWithoutWorker(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.worker.Unregister())
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/event", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPublishRoute(t *testing.T) {
	a := newTestApp(t)
	received := make(chan interface{}, 1)
	a.bus.Consumer("news.sport", func(msg *eventbus.Message) {
		if msg.ReplyAddress() != "" {
			_ = msg.Reply(map[string]interface{}{"echo": msg.Body()})
			return
		}
		received <- msg.Body()
	})

	post := func(address, body string, reply bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/event/"+address, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if reply {
			req.Header.Set("X-Reply", "true")
		}
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, req)
		return w
	}

	w := post("news.sport", `{"score":1}`, false)
	assert.Equal(t, http.StatusAccepted, w.Code)
	select {
	case body := <-received:
		assert.Equal(t, map[string]interface{}{"score": float64(1)}, body)
	case <-time.After(2 * time.Second):
		t.Fatal("published message not received")
	}

	w = post("news.sport", `"hi"`, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"echo":"hi"}`, w.Body.String())

	assert.Equal(t, http.StatusServiceUnavailable, post("nowhere", `1`, true).Code)
	assert.Equal(t, http.StatusBadRequest, post("news.sport", `{`, false).Code)
}

func TestStaticAndLogin(t *testing.T) {
	a := newTestApp(t)
	server := httptest.NewServer(a.router)
	defer server.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	resp, err := client.Get(server.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>webbus</h1>", string(body))

	// redirected to the login page
	resp, err = client.Get(server.URL + "/private/whoami")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, server.URL+LoginPage, resp.Request.URL.String())
	assert.Equal(t, "<form>login</form>", string(body))

	resp, err = client.PostForm(server.URL+"/login", url.Values{"username": {"tim"}, "password": {"wrong"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// back to the page that required the login
	resp, err = client.PostForm(server.URL+"/login", url.Values{"username": {"tim"}, "password": {"secret"}})
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, server.URL+"/private/whoami", resp.Request.URL.String())
	assert.Contains(t, string(body), `"principal":"tim"`)

	resp, err = client.Get(server.URL + "/logout")
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = client.Get(server.URL + "/private/whoami")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, server.URL+LoginPage, resp.Request.URL.String())

	resp, err = client.Get(server.URL + "/missing.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeBridge(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.start())

	var addr string
	for _, ep := range a.endpoints.Endpoints() {
		if r, ok := ep.(*rest.Rest); ok {
			addr = r.Addr().String()
		}
	}
	require.NotEmpty(t, addr)

	c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+bridge.DefaultPath, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteJSON(bridge.Frame{Type: bridge.FrameSend, Address: EventAddress, Body: "hello", ReplyAddress: "r1"}))
	var frame bridge.Frame
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(&frame))
	assert.Equal(t, bridge.FrameRec, frame.Type)
	assert.Equal(t, "r1", frame.Address)
	assert.Equal(t, map[string]interface{}{"worker": "worker message"}, frame.Body)

	// outbound is limited to news.*
	require.NoError(t, c.WriteJSON(bridge.Frame{Type: bridge.FrameRegister, Address: "private"}))
	require.NoError(t, c.ReadJSON(&frame))
	assert.Equal(t, bridge.FrameErr, frame.Type)
	assert.Equal(t, bridge.ErrAccessDenied.Error(), frame.Message)
}

func TestChangedKeys(t *testing.T) {
	keys := changedKeys(config.Change{
		Previous: map[string]interface{}{"a": 1, "b": "x", "gone": true},
		Current:  map[string]interface{}{"a": 1, "b": "y", "new": 2},
	})
	assert.Equal(t, []string{"b", "gone", "new"}, keys)
}
