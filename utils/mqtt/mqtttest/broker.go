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

// Package mqtttest provides an in-memory paho.Client for tests, routing publications
// to the subscriptions of the same client.
package mqtttest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Published is a message seen by the broker.
type Published struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  []byte
}

// Client is an in-memory paho.Client. Publish delivers synchronously to matching
// subscriptions.
type Client struct {
	mu            sync.Mutex
	connected     bool
	subscriptions map[string]paho.MessageHandler
	published     []Published
	nextID        uint16
}

var _ paho.Client = (*Client)(nil)

// NewClient returns a connected client.
func NewClient() *Client {
	return &Client{connected: true, subscriptions: make(map[string]paho.MessageHandler)}
}

// Published returns every message published so far.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Subscriptions returns the subscribed topic filters.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

// SetConnected simulates a lost or restored connection.
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *Client) Connect() paho.Token {
	c.SetConnected(true)
	return done(nil)
}

func (c *Client) Disconnect(quiesce uint) {
	c.SetConnected(false)
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return done(fmt.Errorf("unknown payload type %T", payload))
	}
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return done(paho.ErrNotConnected)
	}
	c.nextID++
	msg := &message{topic: topic, qos: qos, retained: retained, payload: data, id: c.nextID}
	c.published = append(c.published, Published{Topic: topic, Qos: qos, Retained: retained, Payload: data})
	var handlers []paho.MessageHandler
	for filter, h := range c.subscriptions {
		if Match(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(c, msg)
	}
	return done(nil)
}

func (c *Client) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return done(paho.ErrNotConnected)
	}
	c.subscriptions[topic] = callback
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic := range filters {
		c.subscriptions[topic] = callback
	}
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	return done(nil)
}

func (c *Client) AddRoute(topic string, callback paho.MessageHandler) {
	c.mu.Lock()
	c.subscriptions[topic] = callback
	c.mu.Unlock()
}

func (c *Client) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// Match reports whether topic matches the MQTT filter, with + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

type token struct {
	err  error
	done chan struct{}
}

func done(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool {
	return true
}

func (t *token) WaitTimeout(time.Duration) bool {
	return true
}

func (t *token) Done() <-chan struct{} {
	return t.done
}

func (t *token) Error() error {
	return t.err
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	id       uint16
}

func (m *message) Duplicate() bool {
	return false
}

func (m *message) Qos() byte {
	return m.qos
}

func (m *message) Retained() bool {
	return m.retained
}

func (m *message) Topic() string {
	return m.topic
}

func (m *message) MessageID() uint16 {
	return m.id
}

func (m *message) Payload() []byte {
	return m.payload
}

func (m *message) Ack() {}
