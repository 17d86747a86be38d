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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/utils/mqtt"
	"github.com/rulego/webbus/utils/mqtt/mqtttest"
)

func newBridge(t *testing.T, config Config) (*Mqtt, *eventbus.EventBus, *mqtttest.Client) {
	conf := types.NewConfig(types.WithLogger(types.DiscardLogger()))
	bus := eventbus.NewWithConfig(conf)
	bridge, err := New(endpoint.Env{Config: conf, Bus: bus}, config)
	require.NoError(t, err)
	fake := mqtttest.NewClient()
	bridge.Client = mqtt.Wrap(fake)
	require.NoError(t, bridge.Start())
	t.Cleanup(func() {
		_ = bridge.Close()
		_ = bus.Close()
	})
	return bridge, bus, fake
}

func TestInboundSend(t *testing.T) {
	_, bus, fake := newBridge(t, Config{Inbound: []InboundMapping{{Topic: "sensors/+/temp", Address: "temps"}}})
	received := make(chan *eventbus.Message, 1)
	bus.Consumer("temps", func(msg *eventbus.Message) {
		received <- msg
	})

	fake.Publish("sensors/k1/temp", 1, false, []byte("21.5"))
	select {
	case msg := <-received:
		assert.Equal(t, "21.5", msg.Body())
		assert.Equal(t, "sensors/k1/temp", msg.Header(KeyTopic))
		assert.Equal(t, "1", msg.Header(KeyQos))
		assert.True(t, msg.IsSend())
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}
}

func TestInboundPublish(t *testing.T) {
	_, bus, fake := newBridge(t, Config{Inbound: []InboundMapping{{Topic: "alerts", Address: "alerts", Publish: true}}})
	received := make(chan string, 2)
	for i := 0; i < 2; i++ {
		bus.Consumer("alerts", func(msg *eventbus.Message) {
			received <- msg.Body().(string)
		})
	}
	fake.Publish("alerts", 0, false, "fire")
	for i := 0; i < 2; i++ {
		select {
		case body := <-received:
			assert.Equal(t, "fire", body)
		case <-time.After(time.Second):
			t.Fatal("published message not delivered to every consumer")
		}
	}
}

func TestInboundResponseTopic(t *testing.T) {
	_, bus, fake := newBridge(t, Config{Inbound: []InboundMapping{{Topic: "rpc/in", Address: "rpc", ResponseTopic: "rpc/out"}}})
	bus.Consumer("rpc", func(msg *eventbus.Message) {
		_ = msg.Reply(map[string]interface{}{"echo": msg.Body()})
	})
	fake.Publish("rpc/in", 0, false, "ping")

	require.Eventually(t, func() bool { return len(fake.Published()) == 2 }, time.Second, 5*time.Millisecond)
	out := fake.Published()[1]
	assert.Equal(t, "rpc/out", out.Topic)
	assert.JSONEq(t, `{"echo":"ping"}`, string(out.Payload))
}

func TestOutbound(t *testing.T) {
	_, bus, fake := newBridge(t, Config{Outbound: []OutboundMapping{
		{Address: "to.mqtt", Topic: "from/bus", Qos: 1},
		{Address: "to.retained", Topic: "state", Retained: true},
	}})

	require.NoError(t, bus.Send("to.mqtt", []byte("raw")))
	reply, err := bus.RequestAndWait(contextWithTimeout(t), "to.mqtt", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, reply.Body())
	require.NoError(t, bus.Publish("to.retained", "on"))

	require.Eventually(t, func() bool { return len(fake.Published()) == 3 }, time.Second, 5*time.Millisecond)
	byPayload := map[string]mqtttest.Published{}
	for _, p := range fake.Published() {
		byPayload[string(p.Payload)] = p
	}
	assert.Equal(t, "from/bus", byPayload["raw"].Topic)
	assert.Equal(t, byte(1), byPayload[`{"a":1}`].Qos)
	assert.True(t, byPayload["on"].Retained)
}

func TestOutboundFailure(t *testing.T) {
	_, bus, fake := newBridge(t, Config{Outbound: []OutboundMapping{{Address: "to.mqtt", Topic: "t"}}})
	fake.SetConnected(false)
	_, err := bus.RequestAndWait(contextWithTimeout(t), "to.mqtt", "x")
	assert.ErrorIs(t, err, eventbus.ErrRecipientFailure)
}

func TestCloseUnregisters(t *testing.T) {
	bridge, bus, fake := newBridge(t, Config{
		Inbound:  []InboundMapping{{Topic: "in", Address: "a"}},
		Outbound: []OutboundMapping{{Address: "b", Topic: "out"}},
	})
	assert.Equal(t, 1, bus.ConsumerCount("b"))
	assert.Equal(t, []string{"in"}, fake.Subscriptions())

	require.NoError(t, bridge.Close())
	assert.Equal(t, 0, bus.ConsumerCount("b"))
	assert.Empty(t, fake.Subscriptions())
	assert.False(t, fake.IsConnected())
}

func TestInit(t *testing.T) {
	conf := types.NewConfig(types.WithLogger(types.DiscardLogger()))
	bus := eventbus.NewWithConfig(conf)
	defer bus.Close()

	ep := (&Mqtt{}).New()
	assert.Equal(t, Type, ep.Type())
	err := ep.Init(endpoint.Env{Config: conf, Bus: bus}, types.Configuration{
		"server":   "tcp://broker:1883",
		"username": "u",
		"inbound":  []interface{}{map[string]interface{}{"topic": "a/#", "address": "a", "qos": 1}},
	})
	require.NoError(t, err)
	x := ep.(*Mqtt)
	assert.Equal(t, "tcp://broker:1883", x.Config.Server)
	assert.Equal(t, "u", x.Config.Username)
	assert.Equal(t, byte(1), x.Config.Inbound[0].Qos)
	assert.Equal(t, DefaultConnectTimeout, x.Config.ConnectTimeout)

	assert.Error(t, ep.Init(endpoint.Env{Config: conf, Bus: bus}, types.Configuration{
		"inbound": []interface{}{map[string]interface{}{"topic": "a"}},
	}))
	assert.Error(t, ep.Init(endpoint.Env{}, nil))
}

func contextWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
