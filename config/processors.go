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
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/rulego/webbus/api/types"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJS   = "js"
)

type jsonProcessor struct{}

func (jsonProcessor) Name() string {
	return FormatJSON
}

func (jsonProcessor) Process(ctx context.Context, conf types.Configuration, raw []byte) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	if len(raw) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return result, nil
}

type yamlProcessor struct{}

func (yamlProcessor) Name() string {
	return FormatYAML
}

func (yamlProcessor) Process(ctx context.Context, conf types.Configuration, raw []byte) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return normalize(result).(map[string]interface{}), nil
}

type tomlProcessor struct{}

func (tomlProcessor) Name() string {
	return FormatTOML
}

func (tomlProcessor) Process(ctx context.Context, conf types.Configuration, raw []byte) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	if err := toml.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse toml config: %w", err)
	}
	return normalize(result).(map[string]interface{}), nil
}

// normalize converts nested maps with non string keys, and typed maps and slices,
// into map[string]interface{} and []interface{} so that every processor yields the
// same shapes.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, item := range x {
			x[k] = normalize(item)
		}
		return x
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, item := range x {
			m[fmt.Sprint(k)] = normalize(item)
		}
		return m
	case []map[string]interface{}:
		s := make([]interface{}, len(x))
		for i, item := range x {
			s[i] = normalize(item)
		}
		return s
	case []interface{}:
		for i, item := range x {
			x[i] = normalize(item)
		}
		return x
	default:
		return v
	}
}
