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

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/eventbus"
)

func newEnv(t *testing.T) endpoint.Env {
	conf := types.NewConfig(types.WithLogger(types.DiscardLogger()))
	bus := eventbus.NewWithConfig(conf)
	t.Cleanup(func() { _ = bus.Close() })
	return endpoint.Env{Config: conf, Bus: bus}
}

func TestScheduleTicks(t *testing.T) {
	env := newEnv(t)
	received := make(chan *eventbus.Message, 4)
	env.Bus.Consumer("tick", func(msg *eventbus.Message) {
		received <- msg
	})
	schedule, err := New(env, Config{Jobs: []Job{{
		Cron:    "* * * * * *",
		Address: "tick",
		Body:    "tock",
		Headers: map[string]string{"source": "test"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, 1, schedule.JobCount())
	require.NoError(t, schedule.Start())
	defer schedule.Close()

	select {
	case msg := <-received:
		assert.Equal(t, "tock", msg.Body())
		assert.Equal(t, "test", msg.Header("source"))
		assert.Equal(t, "1", msg.Header(KeyJobId))
		_, err := time.Parse(time.RFC3339, msg.Header(KeyScheduledAt))
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestSchedulePublish(t *testing.T) {
	env := newEnv(t)
	received := make(chan string, 2)
	for i := 0; i < 2; i++ {
		env.Bus.Consumer("news", func(msg *eventbus.Message) {
			received <- msg.Body().(string)
		})
	}
	schedule, err := New(env, Config{})
	require.NoError(t, err)
	schedule.fire("7", Job{Address: "news", Body: "hello", Publish: true})
	for i := 0; i < 2; i++ {
		select {
		case body := <-received:
			assert.Equal(t, "hello", body)
		case <-time.After(time.Second):
			t.Fatal("published job not delivered")
		}
	}
}

func TestAddRemoveJob(t *testing.T) {
	schedule, err := New(newEnv(t), Config{})
	require.NoError(t, err)

	id, err := schedule.AddJob(Job{Cron: "@hourly", Address: "a"})
	require.NoError(t, err)
	_, err = schedule.AddJob(Job{Cron: "0 0 * * * *", Address: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, schedule.JobCount())

	require.NoError(t, schedule.RemoveJob(id))
	assert.Equal(t, 1, schedule.JobCount())
	assert.Error(t, schedule.RemoveJob("x"))

	_, err = schedule.AddJob(Job{Cron: "not a cron", Address: "a"})
	assert.Error(t, err)
	_, err = schedule.AddJob(Job{Cron: "@hourly"})
	assert.ErrorIs(t, err, eventbus.ErrEmptyAddress)
}

func TestInit(t *testing.T) {
	env := newEnv(t)
	ep := (&Schedule{}).New()
	assert.Equal(t, Type, ep.Type())
	assert.Error(t, ep.Start())

	err := ep.Init(env, types.Configuration{
		"jobs": []interface{}{
			map[string]interface{}{"cron": "@daily", "address": "a", "body": map[string]interface{}{"k": 1}},
			map[string]interface{}{"cron": "@every 1m", "address": "b", "publish": "true"},
		},
	})
	require.NoError(t, err)
	schedule := ep.(*Schedule)
	assert.Equal(t, 2, schedule.JobCount())
	assert.True(t, schedule.Config.Jobs[1].Publish)
	require.NoError(t, schedule.Start())
	require.NoError(t, schedule.Start())
	require.NoError(t, schedule.Close())

	assert.Error(t, ep.Init(env, types.Configuration{"jobs": []interface{}{map[string]interface{}{"cron": "bad", "address": "a"}}}))
	assert.Error(t, ep.Init(endpoint.Env{}, nil))
}
