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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsumesPatterns(t *testing.T) {
	tests := []struct {
		pattern     string
		contentType string
		ok          bool
	}{
		{"application/json", "application/json", true},
		{"application/json", "Application/JSON; charset=utf-8", true},
		{"application/json", "text/json", false},
		{"text/*", "text/plain", true},
		{"*/json", "application/json", true},
		{"*/*", "image/png", true},
		{"*/*", "", false},
	}
	for _, tt := range tests {
		patterns := parseMediaTypes([]string{tt.pattern})
		assert.Equal(t, tt.ok, consumes(patterns, tt.contentType), "%s ~ %s", tt.pattern, tt.contentType)
	}
}

func TestNegotiate(t *testing.T) {
	produces := parseMediaTypes([]string{"application/json", "text/html"})
	tests := []struct {
		accept string
		want   string
		ok     bool
	}{
		{"", "application/json", true},
		{"text/html", "text/html", true},
		{"text/*;q=0.9, application/json;q=0.1", "text/html", true},
		{"application/json;q=0, text/html;q=0.2", "text/html", true},
		{"image/*", "", false},
	}
	for _, tt := range tests {
		got, ok := negotiate(produces, tt.accept)
		assert.Equal(t, tt.ok, ok, tt.accept)
		assert.Equal(t, tt.want, got, tt.accept)
	}
}
