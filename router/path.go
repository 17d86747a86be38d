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
	"strings"

	"github.com/julienschmidt/httprouter"
)

// NormalizePath cleans p the way request paths are cleaned before matching:
// dot segments and repeated slashes are removed and the trailing slash is dropped,
// so "/p", "/p/" and "/p//" are the same path.
func NormalizePath(p string) string {
	p = httprouter.CleanPath(p)
	if len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

type segment struct {
	literal string
	param   string
}

// pathPattern is a compiled route path. A trailing "*" turns it into a prefix pattern,
// ":name" segments bind path parameters.
type pathPattern struct {
	raw       string
	base      string
	prefix    bool
	segments  []segment
	hasParams bool
}

func compilePattern(raw string) (*pathPattern, error) {
	if raw == "" {
		return nil, ErrEmptyPath
	}
	p := &pathPattern{raw: raw}
	base := raw
	if strings.HasSuffix(base, "*") {
		p.prefix = true
		base = strings.TrimSuffix(base, "*")
	}
	p.base = NormalizePath(base)
	for _, s := range splitPath(p.base) {
		if len(s) > 1 && s[0] == ':' {
			p.segments = append(p.segments, segment{param: s[1:]})
			p.hasParams = true
		} else {
			p.segments = append(p.segments, segment{literal: s})
		}
	}
	return p, nil
}

// match reports whether the normalized path matches and returns the bound parameters.
func (p *pathPattern) match(path string) (map[string]string, bool) {
	if !p.hasParams {
		if path == p.base {
			return nil, true
		}
		if !p.prefix {
			return nil, false
		}
		return nil, p.base == "/" || strings.HasPrefix(path, p.base+"/")
	}
	parts := splitPath(path)
	if len(parts) < len(p.segments) || (!p.prefix && len(parts) != len(p.segments)) {
		return nil, false
	}
	params := make(map[string]string, len(p.segments))
	for i, s := range p.segments {
		if s.param != "" {
			params[s.param] = parts[i]
		} else if s.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
