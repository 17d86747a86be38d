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

// Package mqtt wraps the Paho MQTT client for the MQTT bridge endpoint: connection
// with retry, TLS, and subscriptions that are restored after every reconnect.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid/v5"
)

// ErrNotConnected is returned when publishing while the connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

const (
	// DefaultMaxReconnectInterval is the upper bound of the reconnect backoff.
	DefaultMaxReconnectInterval = 60 * time.Second
	// DefaultConnectRetryInterval is the pause between two initial connect attempts.
	DefaultConnectRetryInterval = 2 * time.Second
	disconnectQuiesce           = 500
)

// Handler 订阅数据处理器
type Handler struct {
	// Topic filter to subscribe to.
	Topic string
	Qos   byte
	// Handle receives every message matching Topic.
	Handle func(c paho.Client, data paho.Message)
}

// Config 客户端配置
type Config struct {
	// Server is the broker url, e.g. tcp://127.0.0.1:1883.
	Server               string
	Username             string
	Password             string
	MaxReconnectInterval time.Duration
	QOS                  uint8
	CleanSession         bool
	// ClientID defaults to a random id.
	ClientID    string
	CAFile      string
	CertFile    string
	CertKeyFile string
}

// Client mqtt客户端
type Client struct {
	sync.RWMutex
	client paho.Client
	//订阅主题和处理器映射
	msgHandlerMap map[string]Handler
}

// NewClient connects to conf.Server, retrying until it succeeds or ctx is done.
func NewClient(ctx context.Context, conf Config) (*Client, error) {
	b := &Client{
		msgHandlerMap: make(map[string]Handler),
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	if conf.ClientID == "" {
		uuId, _ := uuid.NewV4()
		opts.SetClientID("webbus/" + uuId.String()[:8])
	} else {
		opts.SetClientID(conf.ClientID)
	}
	opts.SetOnConnectHandler(b.onConnected)
	if conf.MaxReconnectInterval <= 0 {
		conf.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)

	tlsconfig, err := newTLSConfig(conf.CAFile, conf.CertFile, conf.CertKeyFile)
	if err != nil {
		return nil, fmt.Errorf("error loading mqtt certificate files,ca_cert=%s,tls_cert=%s,tls_key=%s: %w", conf.CAFile, conf.CertFile, conf.CertKeyFile, err)
	}
	if tlsconfig != nil {
		opts.SetTLSConfig(tlsconfig)
	}
	b.client = paho.NewClient(opts)

	for {
		token := b.client.Connect()
		if token.Wait() && token.Error() == nil {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return nil, token.Error()
		case <-time.After(DefaultConnectRetryInterval):
		}
	}
}

// Wrap uses an already connected Paho client. Subscriptions registered through the
// returned Client are not restored on reconnect unless c calls OnConnected.
func Wrap(c paho.Client) *Client {
	return &Client{client: c, msgHandlerMap: make(map[string]Handler)}
}

// OnConnected restores every registered subscription. NewClient installs it as the
// Paho on-connect handler.
func (b *Client) OnConnected(c paho.Client) {
	b.onConnected(c)
}

// RegisterHandler 注册订阅数据处理器
func (b *Client) RegisterHandler(handler Handler) error {
	b.Lock()
	b.msgHandlerMap[handler.Topic] = handler
	b.Unlock()
	return b.subscribeHandler(handler)
}

// UnregisterHandler 删除订阅数据处理器
func (b *Client) UnregisterHandler(topic string) error {
	b.Lock()
	defer b.Unlock()
	if _, exists := b.msgHandlerMap[topic]; !exists {
		return nil
	}
	if token := b.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	delete(b.msgHandlerMap, topic)
	return nil
}

// Topics returns the subscribed topic filters.
func (b *Client) Topics() []string {
	b.RLock()
	defer b.RUnlock()
	topics := make([]string, 0, len(b.msgHandlerMap))
	for topic := range b.msgHandlerMap {
		topics = append(topics, topic)
	}
	return topics
}

// IsConnected reports whether the broker connection is up.
func (b *Client) IsConnected() bool {
	return b.client.IsConnected()
}

// Publish 发布数据
func (b *Client) Publish(topic string, qos byte, data []byte) error {
	return b.publish(topic, qos, false, data)
}

// PublishRetained publishes data as the retained message of topic.
func (b *Client) PublishRetained(topic string, qos byte, data []byte) error {
	return b.publish(topic, qos, true, data)
}

func (b *Client) publish(topic string, qos byte, retained bool, data []byte) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if token := b.client.Publish(topic, qos, retained, data); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Close unsubscribes every topic and disconnects.
func (b *Client) Close() error {
	b.Lock()
	handlers := b.msgHandlerMap
	b.msgHandlerMap = make(map[string]Handler)
	b.Unlock()

	for topic := range handlers {
		b.client.Unsubscribe(topic).Wait()
	}
	b.client.Disconnect(disconnectQuiesce)
	return nil
}

func (b *Client) onConnected(c paho.Client) {
	b.RLock()
	handlers := make([]Handler, 0, len(b.msgHandlerMap))
	for _, handler := range b.msgHandlerMap {
		handlers = append(handlers, handler)
	}
	b.RUnlock()

	for _, handler := range handlers {
		_ = b.subscribeHandler(handler)
	}
}

func (b *Client) subscribeHandler(handler Handler) error {
	token := b.client.Subscribe(handler.Topic, handler.Qos, handler.Handle)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if st, ok := token.(*paho.SubscribeToken); ok && is128Err(st, handler.Topic) {
		return fmt.Errorf("subscribe %s refused by broker", handler.Topic)
	}
	return nil
}

// is128Err reports a SUBACK failure (0x80), usually an ACL rejection.
func is128Err(token *paho.SubscribeToken, topic string) bool {
	result, ok := token.Result()[topic]
	return ok && result == 128
}

func newTLSConfig(caFile, certFile, certKeyFile string) (*tls.Config, error) {
	if caFile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{}
	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		certPool := x509.NewCertPool()
		certPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = certPool
	}
	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}
	return tlsConfig, nil
}
