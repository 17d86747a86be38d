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
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// condition is a compiled boolean expression. It sees the variables
//
//	method      request method
//	path        normalized request path
//	headers     request headers, canonical names, first value
//	query       query parameters, first value, replaced by a reroute with a query
//	params      path parameters bound by the route
//	contentType request content type without parameters
type condition struct {
	source  string
	program *vm.Program
}

func compileCondition(source string) (*condition, error) {
	program, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile route condition %q: %w", source, err)
	}
	return &condition{source: source, program: program}, nil
}

func (c *condition) eval(method, path string, query url.Values, params map[string]string, r *http.Request) (bool, error) {
	env := map[string]interface{}{
		"method":      method,
		"path":        path,
		"headers":     firstValues(r.Header),
		"query":       firstValues(query),
		"params":      nonNil(params),
		"contentType": strings.TrimSpace(strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0]),
	}
	out, err := vm.Run(c.program, env)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	return ok && result, nil
}

func firstValues(values map[string][]string) map[string]string {
	result := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			result[k] = v[0]
		}
	}
	return result
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
