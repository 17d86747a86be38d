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

// Package mqtt bridges MQTT topics and event bus addresses.
//
// Inbound mappings forward messages received on a topic filter to a bus address,
// with Send or Publish, optionally publishing the consumer reply to a response topic.
// Outbound mappings register a bus consumer and publish what it receives to a topic.
//
// Package mqtt 在 MQTT 主题和事件总线地址之间桥接消息。
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid/v5"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/utils/maps"
	"github.com/rulego/webbus/utils/mqtt"
)

// Type 组件类型
const Type = "mqtt"

// Headers set on bus messages received from MQTT.
const (
	KeyTopic     = "topic"
	KeyQos       = "qos"
	KeyMessageId = "messageId"
	// KeyResponseTopic overrides the response topic of an inbound mapping.
	KeyResponseTopic = "responseTopic"
)

const (
	// DefaultServer is the broker used when the configuration names none.
	DefaultServer = "tcp://127.0.0.1:1883"
	// DefaultConnectTimeout bounds the broker connection made by Start.
	DefaultConnectTimeout = 10 * time.Second
)

// Endpoint 别名
type Endpoint = Mqtt

var _ endpoint.Endpoint = (*Mqtt)(nil)

// InboundMapping forwards messages of Topic to the bus address Address.
type InboundMapping struct {
	Topic   string
	Address string
	Qos     byte
	// Publish delivers to every consumer instead of one.
	Publish bool
	// ResponseTopic receives the consumer reply. Ignored with Publish.
	ResponseTopic string
}

// OutboundMapping publishes messages sent to the bus address Address to Topic.
type OutboundMapping struct {
	Address  string
	Topic    string
	Qos      byte
	Retained bool
}

// Config MQTT 桥配置
type Config struct {
	mqtt.Config    `mapstructure:",squash"`
	Inbound        []InboundMapping
	Outbound       []OutboundMapping
	ConnectTimeout time.Duration
}

// Mqtt is the bridge endpoint.
type Mqtt struct {
	id      string
	Config  Config
	Env     endpoint.Env
	OnEvent endpoint.OnEvent
	// Client is used instead of connecting to Config.Server when set before Start.
	Client *mqtt.Client

	mu            sync.Mutex
	started       bool
	subscriptions []*eventbus.Subscription
}

// New creates a bridge for env with config.
func New(env endpoint.Env, config Config) (*Mqtt, error) {
	x := &Mqtt{}
	x.id = newId()
	if err := x.init(env, config); err != nil {
		return nil, err
	}
	return x, nil
}

func newId() string {
	uuId, _ := uuid.NewV4()
	return uuId.String()
}

// Type 组件类型
func (x *Mqtt) Type() string {
	return Type
}

func (x *Mqtt) New() endpoint.Endpoint {
	return &Mqtt{id: newId()}
}

// Init 初始化
func (x *Mqtt) Init(env endpoint.Env, configuration types.Configuration) error {
	config := Config{Config: mqtt.Config{Server: DefaultServer}}
	if err := maps.Map2Struct(configuration, &config); err != nil {
		return err
	}
	return x.init(env, config)
}

func (x *Mqtt) init(env endpoint.Env, config Config) error {
	if env.Bus == nil {
		return errors.New("mqtt bridge needs an event bus")
	}
	for _, m := range config.Inbound {
		if m.Topic == "" || m.Address == "" {
			return fmt.Errorf("inbound mapping needs a topic and an address: %+v", m)
		}
	}
	for _, m := range config.Outbound {
		if m.Topic == "" || m.Address == "" {
			return fmt.Errorf("outbound mapping needs an address and a topic: %+v", m)
		}
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	x.Config = config
	x.Env = env
	return nil
}

func (x *Mqtt) Id() string {
	return x.id
}

func (x *Mqtt) SetOnEvent(onEvent endpoint.OnEvent) {
	x.OnEvent = onEvent
}

// Start connects to the broker, subscribes the inbound topics and registers the
// outbound consumers.
func (x *Mqtt) Start() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.started {
		return nil
	}
	if x.Env.Bus == nil {
		return errors.New("mqtt bridge is not initialized")
	}
	if x.Client == nil {
		ctx, cancel := context.WithTimeout(context.Background(), x.Config.ConnectTimeout)
		client, err := mqtt.NewClient(ctx, x.Config.Config)
		cancel()
		if err != nil {
			return fmt.Errorf("connect mqtt broker %s: %w", x.Config.Server, err)
		}
		x.Client = client
	}
	for _, m := range x.Config.Inbound {
		err := x.Client.RegisterHandler(mqtt.Handler{
			Topic:  m.Topic,
			Qos:    m.Qos,
			Handle: x.inbound(m),
		})
		if err != nil {
			x.closeLocked()
			return err
		}
	}
	for _, m := range x.Config.Outbound {
		sub := x.Env.Bus.Consumer(m.Address, x.outbound(m))
		x.subscriptions = append(x.subscriptions, sub)
	}
	x.started = true
	if x.OnEvent != nil {
		x.OnEvent(endpoint.EventInitServer, x)
	}
	x.Printf("started mqtt bridge on %s", x.Config.Server)
	return nil
}

// Close unregisters the consumers and disconnects from the broker.
func (x *Mqtt) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closeLocked()
}

func (x *Mqtt) closeLocked() error {
	for _, sub := range x.subscriptions {
		_ = sub.Unregister()
	}
	x.subscriptions = nil
	x.started = false
	if x.Client == nil {
		return nil
	}
	err := x.Client.Close()
	x.Client = nil
	if x.OnEvent != nil {
		x.OnEvent(endpoint.EventCompletedServer, err)
	}
	return err
}

func (x *Mqtt) Printf(format string, v ...interface{}) {
	types.NewLogger(x.Env.Config.Logger).Printf(format, v...)
}

// inbound returns the paho handler forwarding messages of m.Topic to the bus.
func (x *Mqtt) inbound(m InboundMapping) func(c paho.Client, data paho.Message) {
	return func(c paho.Client, data paho.Message) {
		defer func() {
			if e := recover(); e != nil {
				x.Printf("mqtt handler err :%v", e)
			}
		}()
		opts := []eventbus.DeliveryOption{
			eventbus.WithHeader(KeyTopic, data.Topic()),
			eventbus.WithHeader(KeyQos, strconv.Itoa(int(data.Qos()))),
			eventbus.WithHeader(KeyMessageId, strconv.Itoa(int(data.MessageID()))),
		}
		body := string(data.Payload())
		bus := x.Env.Bus
		var err error
		switch {
		case m.Publish:
			err = bus.Publish(m.Address, body, opts...)
		case m.ResponseTopic != "":
			err = bus.Request(m.Address, body, x.respond(m), opts...)
		default:
			err = bus.Send(m.Address, body, opts...)
		}
		if err != nil {
			x.Printf("mqtt forward %s to %s: %v", data.Topic(), m.Address, err)
		}
	}
}

// respond publishes the consumer reply to the response topic of m.
func (x *Mqtt) respond(m InboundMapping) eventbus.ReplyHandler {
	return func(reply *eventbus.Message, err error) {
		if err != nil {
			x.Printf("mqtt request to %s failed: %v", m.Address, err)
			return
		}
		topic := reply.Header(KeyResponseTopic)
		if topic == "" {
			topic = m.ResponseTopic
		}
		payload, err := encode(reply.Body())
		if err == nil {
			err = x.publish(topic, m.Qos, false, payload)
		}
		if err != nil {
			x.Printf("mqtt publish reply to %s: %v", topic, err)
		}
	}
}

// outbound returns the bus consumer publishing to m.Topic. A sender waiting for a
// reply gets nil once published, or a failure.
func (x *Mqtt) outbound(m OutboundMapping) eventbus.Handler {
	return func(msg *eventbus.Message) {
		payload, err := encode(msg.Body())
		if err == nil {
			err = x.publish(m.Topic, m.Qos, m.Retained, payload)
		}
		if msg.ReplyAddress() == "" {
			if err != nil {
				x.Printf("mqtt publish %s to %s: %v", m.Address, m.Topic, err)
			}
			return
		}
		if err != nil {
			_ = msg.Fail(http.StatusBadGateway, err.Error())
			return
		}
		_ = msg.Reply(nil)
	}
}

func (x *Mqtt) publish(topic string, qos byte, retained bool, payload []byte) error {
	x.mu.Lock()
	client := x.Client
	x.mu.Unlock()
	if client == nil {
		return mqtt.ErrNotConnected
	}
	if retained {
		return client.PublishRetained(topic, qos, payload)
	}
	return client.Publish(topic, qos, payload)
}

// encode turns a bus body into an MQTT payload: bytes and strings as is, anything
// else as JSON.
func encode(body interface{}) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
