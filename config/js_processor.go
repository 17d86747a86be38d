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

package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"

	"github.com/rulego/webbus/api/types"
)

// DefaultScriptTimeout bounds the execution of a js configuration script.
const DefaultScriptTimeout = 2 * time.Second

// jsProcessor evaluates a script whose completion value is the configuration object,
// or a function returning it. The script sees
//
//	env(name)  the value of environment variable name
//	store      the configuration of the store that read the script
type jsProcessor struct {
	timeout time.Duration
}

func newJSProcessor() Processor {
	return &jsProcessor{timeout: DefaultScriptTimeout}
}

func (p *jsProcessor) Name() string {
	return FormatJS
}

func (p *jsProcessor) Process(ctx context.Context, conf types.Configuration, raw []byte) (map[string]interface{}, error) {
	program, err := goja.Compile("config.js", string(raw), true)
	if err != nil {
		return nil, fmt.Errorf("compile js config: %w", err)
	}
	vm := goja.New()
	if err := vm.Set("env", os.Getenv); err != nil {
		return nil, err
	}
	if err := vm.Set("store", map[string]interface{}(conf)); err != nil {
		return nil, err
	}

	timer := time.AfterFunc(p.timeout, func() {
		vm.Interrupt("execution timeout")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("run js config: %w", err)
	}
	if fn, ok := goja.AssertFunction(value); ok {
		if value, err = fn(goja.Undefined()); err != nil {
			return nil, fmt.Errorf("run js config: %w", err)
		}
	}
	result, ok := value.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("js config must evaluate to an object, got %T", value.Export())
	}
	return normalize(result).(map[string]interface{}), nil
}
