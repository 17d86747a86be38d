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
	"mime"
	"sort"
	"strconv"
	"strings"
)

type mediaType struct {
	raw string
	typ string
	sub string
	q   float64
}

func parseMediaType(s string) (mediaType, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return mediaType{}, false
	}
	m := mediaType{q: 1}
	full, params, err := mime.ParseMediaType(s)
	if err != nil {
		// "*" alone, or a type with broken parameters
		full = strings.ToLower(strings.TrimSpace(strings.SplitN(s, ";", 2)[0]))
	}
	if full == "*" {
		full = "*/*"
	}
	typ, sub, ok := strings.Cut(full, "/")
	if !ok || typ == "" || sub == "" {
		return mediaType{}, false
	}
	m.typ, m.sub, m.raw = typ, sub, full
	if q, ok := params["q"]; ok {
		if v, err := strconv.ParseFloat(q, 64); err == nil {
			m.q = v
		}
	}
	return m, true
}

func parseMediaTypes(values []string) []mediaType {
	var result []mediaType
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if m, ok := parseMediaType(part); ok {
				result = append(result, m)
			}
		}
	}
	return result
}

// parseAccept returns the acceptable types ordered by decreasing quality. Types with q=0
// are not acceptable and are left out.
func parseAccept(header string) []mediaType {
	types := parseMediaTypes([]string{header})
	accepted := types[:0]
	for _, m := range types {
		if m.q > 0 {
			accepted = append(accepted, m)
		}
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].q > accepted[j].q
	})
	return accepted
}

func (m mediaType) matches(o mediaType) bool {
	return (m.typ == "*" || o.typ == "*" || m.typ == o.typ) &&
		(m.sub == "*" || o.sub == "*" || m.sub == o.sub)
}

// consumes reports whether the request content type matches one of patterns.
// A request without content type matches no pattern.
func consumes(patterns []mediaType, contentType string) bool {
	ct, ok := parseMediaType(contentType)
	if !ok {
		return false
	}
	for _, p := range patterns {
		if p.matches(ct) {
			return true
		}
	}
	return false
}

// negotiate picks the first produced type acceptable to the client. An absent Accept
// header accepts the first produced type.
func negotiate(produces []mediaType, accept string) (string, bool) {
	if strings.TrimSpace(accept) == "" {
		return produces[0].raw, true
	}
	for _, a := range parseAccept(accept) {
		for _, p := range produces {
			if p.matches(a) {
				return p.raw, true
			}
		}
	}
	return "", false
}
