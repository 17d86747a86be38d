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
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rulego/webbus/router"
)

const (
	// DefaultWebRoot is the directory served by Static when no FS is given.
	DefaultWebRoot = "webroot"
	// DefaultIndexPage is served for directory requests.
	DefaultIndexPage = "index.html"
	// DefaultMaxAge is the Cache-Control max-age in seconds when caching is enabled.
	DefaultMaxAge = 86400
)

// StaticOptions configure the static file handler.
type StaticOptions struct {
	// FS is served when set, otherwise WebRoot is opened with os.DirFS.
	FS      fs.FS
	WebRoot string
	// IndexPage is served for a directory, DefaultIndexPage when empty.
	IndexPage string
	// CachingEnabled sends Cache-Control and honours If-Modified-Since.
	CachingEnabled bool
	// MaxAge is the Cache-Control max-age in seconds, DefaultMaxAge when zero.
	MaxAge int
	// IncludeHidden serves files whose name starts with a dot.
	IncludeHidden bool
}

// DefaultStaticOptions serves DefaultWebRoot with caching enabled.
func DefaultStaticOptions() StaticOptions {
	return StaticOptions{WebRoot: DefaultWebRoot, CachingEnabled: true}
}

// Static serves files for GET and HEAD requests. On a prefix route the prefix is
// stripped before the file is looked up, so "/private/*" serves "/private/a.html"
// from "a.html". Requests for missing files, and other methods, go to the next route.
func Static(opts StaticOptions) router.Handler {
	fsys := opts.FS
	if fsys == nil {
		root := opts.WebRoot
		if root == "" {
			root = DefaultWebRoot
		}
		fsys = os.DirFS(root)
	}
	if opts.IndexPage == "" {
		opts.IndexPage = DefaultIndexPage
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	return func(ctx *router.RoutingContext) {
		method := ctx.Method()
		if method != http.MethodGet && method != http.MethodHead {
			_ = ctx.Next()
			return
		}
		name, ok := staticName(ctx, opts)
		if !ok {
			_ = ctx.Next()
			return
		}
		info, err := fs.Stat(fsys, name)
		if err == nil && info.IsDir() {
			name = path.Join(name, opts.IndexPage)
			info, err = fs.Stat(fsys, name)
		}
		if err != nil || info.IsDir() {
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				_ = ctx.FailWithError(http.StatusInternalServerError, err)
				return
			}
			_ = ctx.Next()
			return
		}

		resp := ctx.Response()
		modified := info.ModTime().UTC().Truncate(time.Second)
		if opts.CachingEnabled {
			resp.PutHeader("Cache-Control", "public, max-age="+strconv.Itoa(opts.MaxAge))
			resp.PutHeader("Last-Modified", modified.Format(http.TimeFormat))
			if since, err := http.ParseTime(ctx.Header("If-Modified-Since")); err == nil && !modified.After(since) {
				_ = resp.SetStatusCode(http.StatusNotModified).End()
				return
			}
		} else {
			resp.PutHeader("Cache-Control", "no-cache, no-store, must-revalidate")
		}
		if contentType := mime.TypeByExtension(path.Ext(name)); contentType != "" {
			resp.PutHeader("Content-Type", contentType)
		}
		f, err := fsys.Open(name)
		if err != nil {
			_ = ctx.FailWithError(http.StatusInternalServerError, err)
			return
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			_ = ctx.FailWithError(http.StatusInternalServerError, err)
			return
		}
		_ = resp.EndBytes(content)
	}
}

// staticName maps the request path to a name in the file system. It never escapes
// the root: the path is cleaned and hidden segments are refused.
func staticName(ctx *router.RoutingContext, opts StaticOptions) (string, bool) {
	p := ctx.Path()
	if route := ctx.CurrentRoute(); route != nil {
		if prefix := route.PathPrefix(); prefix != "" && prefix != "/" {
			p = strings.TrimPrefix(p, prefix)
		}
	}
	p = path.Clean("/" + p)
	if !opts.IncludeHidden {
		for _, part := range strings.Split(p, "/") {
			if strings.HasPrefix(part, ".") {
				return "", false
			}
		}
	}
	name := strings.TrimPrefix(p, "/")
	if name == "" {
		name = "."
	}
	return name, fs.ValidPath(name)
}
