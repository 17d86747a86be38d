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
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/webbus/router"
)

func staticRouter(opts StaticOptions) *router.Router {
	if opts.FS == nil {
		opts.FS = fstest.MapFS{
			"index.html":   {Data: []byte("<h1>home</h1>")},
			"css/site.css": {Data: []byte("body{}")},
			".secret":      {Data: []byte("hidden")},
		}
	}
	r := newTestRouter()
	r.Route().Path("/static/*").Handler(Static(opts))
	return r
}

func TestStatic(t *testing.T) {
	r := staticRouter(StaticOptions{CachingEnabled: true})

	w := do(r, httptest.NewRequest(http.MethodGet, "/static/css/site.css", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "body{}", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, "public, max-age=86400", w.Header().Get("Cache-Control"))

	w = do(r, httptest.NewRequest(http.MethodGet, "/static/", nil))
	assert.Equal(t, "<h1>home</h1>", w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/static/missing.js", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/static/.secret", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodPost, "/static/index.html", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/static/index.html", nil)
	req.Header.Set("If-Modified-Since", time.Now().UTC().Format(http.TimeFormat))
	assert.Equal(t, http.StatusNotModified, do(r, req).Code)

	w = do(r, httptest.NewRequest(http.MethodHead, "/static/index.html", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestStaticTraversal(t *testing.T) {
	root := t.TempDir()
	web := root + "/web"
	require.NoError(t, os.Mkdir(web, 0755))
	require.NoError(t, os.WriteFile(web+"/a.txt", []byte("a"), 0644))
	require.NoError(t, os.WriteFile(root+"/outside.txt", []byte("outside"), 0644))

	r := staticRouter(StaticOptions{WebRoot: web})
	w := do(r, httptest.NewRequest(http.MethodGet, "/static/a.txt", nil))
	assert.Equal(t, "a", w.Body.String())
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/static/a.txt", nil)
	req.URL.Path = "/static/../../outside.txt"
	assert.Equal(t, http.StatusNotFound, do(r, req).Code)
}

func TestBodyFileUploads(t *testing.T) {
	dir := t.TempDir()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("title", "report"))
	fw, err := mw.CreateFormFile("file", "report.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("quarterly numbers"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	var uploads []router.FileUpload
	var content []byte
	r := newTestRouter()
	r.Route().Handler(Body(BodyOptions{UploadsDirectory: dir, HandleFileUploads: true, DeleteUploadedFilesOnEnd: true}))
	r.Post("/some/path/uploads").Handler(func(ctx *router.RoutingContext) {
		uploads = ctx.FileUploads()
		if len(uploads) == 1 {
			content, _ = os.ReadFile(uploads[0].UploadedFileName)
		}
		_ = ctx.Response().EndString(ctx.Request().FormValue("title"))
	})

	req := httptest.NewRequest(http.MethodPost, "/some/path/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(r, req)
	assert.Equal(t, "report", w.Body.String())
	require.Len(t, uploads, 1)
	assert.Equal(t, "file", uploads[0].Name)
	assert.Equal(t, "report.txt", uploads[0].FileName)
	assert.Equal(t, int64(len("quarterly numbers")), uploads[0].Size)
	assert.Equal(t, "quarterly numbers", string(content))
	_, err = os.Stat(uploads[0].UploadedFileName)
	assert.True(t, os.IsNotExist(err))
}
