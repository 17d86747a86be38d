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
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/webbus/api/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func retrieve(t *testing.T, stores ...StoreOptions) map[string]interface{} {
	t.Helper()
	r, err := NewRetriever(RetrieverOptions{Stores: stores, Logger: types.DiscardLogger()})
	require.NoError(t, err)
	defer r.Close()
	conf, err := r.GetConfig(context.Background())
	require.NoError(t, err)
	return conf
}

func TestFileFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "conf.json", `{"server": {"port": 9090, "name": "webbus"}}`},
		{"yaml", "conf.yml", "server:\n  port: 9090\n  name: webbus\n"},
		{"toml", "conf.toml", "[server]\nport = 9090\nname = \"webbus\"\n"},
		{"js", "conf.js", `({server: {port: 9090, name: "web" + "bus"}})`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			conf := retrieve(t, StoreOptions{Type: TypeFile, Config: types.Configuration{"path": path}})
			server, ok := conf["server"].(map[string]interface{})
			require.True(t, ok, "%T", conf["server"])
			assert.Equal(t, "webbus", server["name"])
			assert.EqualValues(t, 9090, server["port"])
		})
	}
}

func TestExplicitFormat(t *testing.T) {
	path := writeFile(t, "conf.txt", "a: 1\n")
	conf := retrieve(t, StoreOptions{Type: TypeFile, Format: FormatYAML, Config: types.Configuration{"path": path}})
	assert.EqualValues(t, 1, conf["a"])
}

func TestJSFunctionAndEnv(t *testing.T) {
	t.Setenv("WEBBUS_TEST_NAME", "from-env")
	conf := retrieve(t, StoreOptions{
		Type:   TypeFile,
		Config: types.Configuration{"path": writeFile(t, "conf.js", `(function() { return {name: env("WEBBUS_TEST_NAME"), path: store.path.length > 0} })`)},
	})
	assert.Equal(t, "from-env", conf["name"])
	assert.Equal(t, true, conf["path"])

	r, err := NewRetriever(RetrieverOptions{Stores: []StoreOptions{{
		Type: TypeFile, Config: types.Configuration{"path": writeFile(t, "bad.js", `42`)},
	}}})
	require.NoError(t, err)
	_, err = r.GetConfig(context.Background())
	assert.Error(t, err)
}

func TestMergeOrder(t *testing.T) {
	base := writeFile(t, "base.yaml", "server:\n  port: 8080\n  host: localhost\nmode: dev\n")
	conf := retrieve(t,
		StoreOptions{Type: TypeFile, Config: types.Configuration{"path": base}},
		StoreOptions{Type: TypeJSON, Config: types.Configuration{"server": map[string]interface{}{"port": 9090}, "mode": "prod"}},
	)
	server := conf["server"].(map[string]interface{})
	assert.EqualValues(t, 9090, server["port"])
	assert.Equal(t, "localhost", server["host"])
	assert.Equal(t, "prod", conf["mode"])
}

func TestEnvStore(t *testing.T) {
	t.Setenv("WEBBUS_PORT", "9090")
	t.Setenv("WEBBUS_HOST", "example.com")
	t.Setenv("OTHER_PORT", "1")
	conf := retrieve(t, StoreOptions{Type: TypeEnv, Config: types.Configuration{"prefix": "WEBBUS_", "stripPrefix": true}})
	assert.Equal(t, "9090", conf["PORT"])
	assert.Equal(t, "example.com", conf["HOST"])
	assert.NotContains(t, conf, "OTHER_PORT")

	conf = retrieve(t, StoreOptions{Type: TypeEnv, Config: types.Configuration{"keys": []string{"WEBBUS_PORT"}}})
	assert.Equal(t, map[string]interface{}{"WEBBUS_PORT": "9090"}, conf)

	t.Setenv("WEBBUS_REQUEST_TIMEOUT", "5s")
	conf = retrieve(t, StoreOptions{Type: TypeEnv, Config: types.Configuration{"prefix": "WEBBUS_", "stripPrefix": true, "camelCase": true}})
	assert.Equal(t, "5s", conf["requestTimeout"])
	assert.Equal(t, "9090", conf["port"])
	assert.NotContains(t, conf, "PORT")
}

func TestOptionalStore(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	conf := retrieve(t,
		StoreOptions{Type: TypeJSON, Config: types.Configuration{"a": 1}},
		StoreOptions{Type: TypeFile, Config: types.Configuration{"path": missing}, Optional: true},
	)
	assert.EqualValues(t, 1, conf["a"])

	r, err := NewRetriever(RetrieverOptions{Stores: []StoreOptions{{Type: TypeFile, Config: types.Configuration{"path": missing}}}})
	require.NoError(t, err)
	_, err = r.GetConfig(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnknownStoreAndProcessor(t *testing.T) {
	_, err := NewRetriever(RetrieverOptions{Stores: []StoreOptions{{Type: "consul"}}})
	assert.ErrorIs(t, err, ErrUnknownStore)
	_, err = NewRetriever(RetrieverOptions{Stores: []StoreOptions{{Type: TypeJSON, Format: "hocon"}}})
	assert.ErrorIs(t, err, ErrUnknownProcessor)
	_, err = NewRetriever(RetrieverOptions{Stores: []StoreOptions{{Type: TypeFile}}})
	assert.Error(t, err)
}

type testProcessor struct{}

func (testProcessor) Name() string {
	return "test"
}

func (testProcessor) Process(ctx context.Context, conf types.Configuration, raw []byte) (map[string]interface{}, error) {
	return map[string]interface{}{"processor": "test", "node": conf["node"], "raw": string(raw)}, nil
}

type testStore struct {
	node string
}

func (s *testStore) Get(ctx context.Context) ([]byte, error) {
	if s.node == "" {
		return nil, errors.New("no node")
	}
	return []byte(s.node), nil
}

func TestCustomStoreAndProcessor(t *testing.T) {
	RegisterStore("test", func(conf types.Configuration) (Store, error) {
		node, _ := conf["node"].(string)
		return &testStore{node: node}, nil
	})
	RegisterProcessor(testProcessor{})
	assert.Contains(t, StoreTypes(), "test")
	assert.Contains(t, Formats(), "test")

	conf := retrieve(t, StoreOptions{Type: "test", Format: "test", Config: types.Configuration{"node": "store"}})
	assert.Equal(t, map[string]interface{}{"processor": "test", "node": "store", "raw": "store"}, conf)
}

func TestUnmarshal(t *testing.T) {
	r, err := NewRetriever(RetrieverOptions{Stores: []StoreOptions{{
		Type:   TypeJSON,
		Config: types.Configuration{"server": map[string]interface{}{"port": "9090", "readTimeout": "5s"}},
	}}})
	require.NoError(t, err)
	_, err = r.GetConfig(context.Background())
	require.NoError(t, err)

	var conf struct {
		Server struct {
			Port        int
			ReadTimeout time.Duration
		}
	}
	require.NoError(t, r.Unmarshal(&conf))
	assert.Equal(t, 9090, conf.Server.Port)
	assert.Equal(t, 5*time.Second, conf.Server.ReadTimeout)
}

func TestScanListener(t *testing.T) {
	path := writeFile(t, "conf.json", `{"v": 1}`)
	r, err := NewRetriever(RetrieverOptions{
		Stores:     []StoreOptions{{Type: TypeFile, Config: types.Configuration{"path": path}}},
		ScanPeriod: 10 * time.Millisecond,
		Logger:     types.DiscardLogger(),
	})
	require.NoError(t, err)
	defer r.Close()
	_, err = r.GetConfig(context.Background())
	require.NoError(t, err)

	var latest atomic.Value
	r.Listen(func(c Change) {
		latest.Store(c)
	})
	r.Start()
	require.NoError(t, os.WriteFile(path, []byte(`{"v": 2}`), 0644))
	assert.Eventually(t, func() bool {
		c, ok := latest.Load().(Change)
		return ok && c.Current["v"] == float64(2) && c.Previous["v"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)
}
