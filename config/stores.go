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
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/utils/maps"
)

const (
	TypeFile = "file"
	TypeEnv  = "env"
	TypeJSON = "json"
	TypeSQL  = "sql"
)

// FileStoreConfiguration configures the file store.
type FileStoreConfiguration struct {
	// Path of the file. Its extension selects the default format.
	Path string
}

type fileStore struct {
	path string
}

func newFileStore(conf types.Configuration) (Store, error) {
	var c FileStoreConfiguration
	if err := maps.Map2Struct(conf, &c); err != nil {
		return nil, err
	}
	if c.Path == "" {
		return nil, errors.New("file store path can not empty")
	}
	return &fileStore{path: c.Path}, nil
}

func (s *fileStore) Get(ctx context.Context) ([]byte, error) {
	return os.ReadFile(s.path)
}

func (s *fileStore) Format() string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(s.path), ".")); ext {
	case "yml":
		return FormatYAML
	case "":
		return FormatJSON
	default:
		return ext
	}
}

// EnvStoreConfiguration configures the env store.
type EnvStoreConfiguration struct {
	// Prefix keeps only the variables starting with it.
	Prefix string
	// StripPrefix removes Prefix from the keys.
	StripPrefix bool
	// Keys keeps only the listed variables, all when empty.
	Keys []string
	// CamelCase turns keys such as REQUEST_TIMEOUT into requestTimeout, after the
	// prefix is stripped.
	CamelCase bool
}

type envStore struct {
	conf EnvStoreConfiguration
}

func newEnvStore(conf types.Configuration) (Store, error) {
	var c EnvStoreConfiguration
	if err := maps.Map2Struct(conf, &c); err != nil {
		return nil, err
	}
	return &envStore{conf: c}, nil
}

// Get returns the selected environment variables as a JSON object.
func (s *envStore) Get(ctx context.Context) ([]byte, error) {
	var keys map[string]struct{}
	if len(s.conf.Keys) > 0 {
		keys = make(map[string]struct{}, len(s.conf.Keys))
		for _, k := range s.conf.Keys {
			keys[k] = struct{}{}
		}
	}
	result := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, s.conf.Prefix) {
			continue
		}
		if keys != nil {
			if _, found := keys[k]; !found {
				continue
			}
		}
		if s.conf.StripPrefix {
			k = strings.TrimPrefix(k, s.conf.Prefix)
		}
		if s.conf.CamelCase {
			k = camelCase(k)
		}
		if k != "" {
			result[k] = v
		}
	}
	return json.Marshal(result)
}

func (s *envStore) Format() string {
	return FormatJSON
}

// camelCase converts an upper snake case name to lower camel case.
func camelCase(k string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.ToLower(k), "_") {
		if part == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(part)
		} else {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

// jsonStore serves its own configuration, which is the configuration itself.
type jsonStore struct {
	raw []byte
}

func newJSONStore(conf types.Configuration) (Store, error) {
	if conf == nil {
		conf = types.Configuration{}
	}
	raw, err := json.Marshal(conf)
	if err != nil {
		return nil, err
	}
	return &jsonStore{raw: raw}, nil
}

func (s *jsonStore) Get(ctx context.Context) ([]byte, error) {
	return s.raw, nil
}

func (s *jsonStore) Format() string {
	return FormatJSON
}
