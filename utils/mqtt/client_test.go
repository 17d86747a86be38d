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

package mqtt

import (
	"context"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/webbus/utils/mqtt/mqtttest"
)

func TestClientSubscribePublish(t *testing.T) {
	fake := mqtttest.NewClient()
	client := Wrap(fake)

	received := make(chan string, 2)
	require.NoError(t, client.RegisterHandler(Handler{
		Topic: "devices/+/state",
		Handle: func(c paho.Client, data paho.Message) {
			received <- data.Topic() + "=" + string(data.Payload())
		},
	}))
	assert.Equal(t, []string{"devices/+/state"}, client.Topics())

	require.NoError(t, client.Publish("devices/a/state", 1, []byte("on")))
	require.NoError(t, client.Publish("devices/a/other", 1, []byte("x")))
	assert.Equal(t, "devices/a/state=on", <-received)
	assert.Len(t, fake.Published(), 2)

	require.NoError(t, client.UnregisterHandler("devices/+/state"))
	require.NoError(t, client.UnregisterHandler("devices/+/state"))
	assert.Empty(t, fake.Subscriptions())
}

func TestClientResubscribeOnConnect(t *testing.T) {
	fake := mqtttest.NewClient()
	client := Wrap(fake)
	require.NoError(t, client.RegisterHandler(Handler{Topic: "a", Handle: func(paho.Client, paho.Message) {}}))
	require.NoError(t, client.RegisterHandler(Handler{Topic: "b", Handle: func(paho.Client, paho.Message) {}}))

	// the broker dropped the subscriptions with the session
	fake.Unsubscribe("a", "b")
	assert.Empty(t, fake.Subscriptions())
	client.OnConnected(fake)
	assert.ElementsMatch(t, []string{"a", "b"}, fake.Subscriptions())
}

func TestClientNotConnected(t *testing.T) {
	fake := mqtttest.NewClient()
	client := Wrap(fake)
	fake.SetConnected(false)
	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.Publish("a", 0, []byte("x")), ErrNotConnected)
	assert.Error(t, client.RegisterHandler(Handler{Topic: "a", Handle: func(paho.Client, paho.Message) {}}))
}

func TestClientClose(t *testing.T) {
	fake := mqtttest.NewClient()
	client := Wrap(fake)
	require.NoError(t, client.RegisterHandler(Handler{Topic: "a", Handle: func(paho.Client, paho.Message) {}}))
	require.NoError(t, client.Close())
	assert.Empty(t, fake.Subscriptions())
	assert.Empty(t, client.Topics())
	assert.False(t, fake.IsConnected())
}

func TestNewClientGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewClient(ctx, Config{Server: "tcp://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestNewTLSConfig(t *testing.T) {
	conf, err := newTLSConfig("", "", "")
	assert.NoError(t, err)
	assert.Nil(t, conf)

	_, err = newTLSConfig("/no/such/ca.pem", "", "")
	assert.Error(t, err)

	_, err = NewClient(context.Background(), Config{Server: "tcp://127.0.0.1:1", CAFile: "/no/such/ca.pem"})
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	assert.True(t, mqtttest.Match("a/#", "a/b/c"))
	assert.True(t, mqtttest.Match("a/+/c", "a/b/c"))
	assert.False(t, mqtttest.Match("a/+", "a/b/c"))
	assert.False(t, mqtttest.Match("a/b/c", "a/b"))
}
