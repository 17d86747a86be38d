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

// Package websocket bridges the event bus to browsers over websocket.
//
// A client exchanges JSON frames with the bridge:
//
//	{"type":"send","address":"a","body":{},"headers":{},"replyAddress":"r"}
//	{"type":"publish","address":"a","body":{}}
//	{"type":"register","address":"a"}
//	{"type":"unregister","address":"a"}
//	{"type":"ping"}
//
// and receives "rec" frames for messages and replies, "err" frames for failures and
// "pong" for pings. Nothing crosses the bridge unless a permitted option allows it:
// Inbound for send and publish, Outbound for register.
//
// Package websocket 通过 websocket 把事件总线桥接到浏览器。
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/router"
	"github.com/rulego/webbus/utils/maps"
)

// Type 组件类型
const Type = "ws"

const (
	// DefaultPath is where the bridge is mounted on the router.
	DefaultPath = "/eventbus"
	// DefaultMaxMessageSize is the largest frame accepted from a client.
	DefaultMaxMessageSize = 64 * 1024
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second
)

// Frame types.
const (
	FrameSend       = "send"
	FramePublish    = "publish"
	FrameRegister   = "register"
	FrameUnregister = "unregister"
	FramePing       = "ping"
	FramePong       = "pong"
	FrameRec        = "rec"
	FrameErr        = "err"
)

// ErrAccessDenied is reported to a client for traffic no permitted option allows.
var ErrAccessDenied = errors.New("access_denied")

// Endpoint 别名
type Endpoint = Websocket

var _ endpoint.Endpoint = (*Websocket)(nil)

// Frame is the JSON envelope exchanged with clients.
type Frame struct {
	Type         string            `json:"type"`
	Address      string            `json:"address,omitempty"`
	Body         interface{}       `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	ReplyAddress string            `json:"replyAddress,omitempty"`
	FailureCode  int               `json:"failureCode,omitempty"`
	FailureType  string            `json:"failureType,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// PermittedOptions allows an address, or every address matching AddressRegex.
type PermittedOptions struct {
	Address      string
	AddressRegex string
}

// Config Websocket 桥配置
type Config struct {
	// Path the bridge is mounted at.
	Path string
	// Inbound lists the addresses clients may send and publish to.
	Inbound []PermittedOptions
	// Outbound lists the addresses clients may register at.
	Outbound []PermittedOptions
	// MaxMessageSize is the read limit of a client frame.
	MaxMessageSize int64
	// ReplyTimeout of requests sent by clients. Zero uses the bus default.
	ReplyTimeout time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins restricts the Origin header. Empty accepts same-origin requests only,
	// "*" accepts any origin.
	AllowedOrigins []string
}

type permitted struct {
	address string
	regex   *regexp.Regexp
}

func (p permitted) match(address string) bool {
	if p.regex != nil {
		return p.regex.MatchString(address)
	}
	return p.address == address
}

// Websocket mounts the bridge on the router of its env. It does not listen by itself:
// the rest endpoint, or any server, serves that router.
type Websocket struct {
	id       string
	Config   Config
	Env      endpoint.Env
	OnEvent  endpoint.OnEvent
	Upgrader websocket.Upgrader

	inbound  []permitted
	outbound []permitted

	mu    sync.Mutex
	route *router.Route
	conns map[*conn]struct{}
}

// New creates a bridge for env with config.
func New(env endpoint.Env, config Config) (*Websocket, error) {
	uuId, _ := uuid.NewV4()
	ws := &Websocket{id: uuId.String()}
	if err := ws.init(env, config); err != nil {
		return nil, err
	}
	return ws, nil
}

// Type 组件类型
func (ws *Websocket) Type() string {
	return Type
}

func (ws *Websocket) New() endpoint.Endpoint {
	uuId, _ := uuid.NewV4()
	return &Websocket{id: uuId.String()}
}

// Init 初始化
func (ws *Websocket) Init(env endpoint.Env, configuration types.Configuration) error {
	var config Config
	if err := maps.Map2Struct(configuration, &config); err != nil {
		return err
	}
	return ws.init(env, config)
}

func (ws *Websocket) init(env endpoint.Env, config Config) error {
	if env.Router == nil {
		return errors.New("websocket bridge needs a router")
	}
	if env.Bus == nil {
		return errors.New("websocket bridge needs an event bus")
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	var err error
	if ws.inbound, err = compilePermitted(config.Inbound); err != nil {
		return err
	}
	if ws.outbound, err = compilePermitted(config.Outbound); err != nil {
		return err
	}
	ws.Config = config
	ws.Env = env
	ws.Upgrader.CheckOrigin = ws.checkOrigin
	return nil
}

func compilePermitted(options []PermittedOptions) ([]permitted, error) {
	result := make([]permitted, 0, len(options))
	for _, o := range options {
		p := permitted{address: o.Address}
		if o.AddressRegex != "" {
			re, err := regexp.Compile("^(?:" + o.AddressRegex + ")$")
			if err != nil {
				return nil, fmt.Errorf("invalid permitted address regex %q: %w", o.AddressRegex, err)
			}
			p.regex = re
		}
		result = append(result, p)
	}
	return result, nil
}

func (ws *Websocket) Id() string {
	return ws.id
}

func (ws *Websocket) SetOnEvent(onEvent endpoint.OnEvent) {
	ws.OnEvent = onEvent
}

// Start mounts the bridge at Config.Path.
func (ws *Websocket) Start() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.route != nil {
		return nil
	}
	if ws.Env.Router == nil {
		return errors.New("websocket bridge is not initialized")
	}
	route, err := ws.Env.Router.Get(ws.Config.Path).Register(router.KindNormal, ws.handler)
	if err != nil {
		return err
	}
	ws.route = route
	ws.conns = make(map[*conn]struct{})
	if ws.OnEvent != nil {
		ws.OnEvent(endpoint.EventInitServer, ws)
	}
	return nil
}

// Close unmounts the bridge and closes every client connection.
func (ws *Websocket) Close() error {
	ws.mu.Lock()
	route := ws.route
	conns := ws.conns
	ws.route = nil
	ws.conns = nil
	ws.mu.Unlock()
	if route != nil {
		route.Remove()
	}
	for c := range conns {
		c.close()
	}
	return nil
}

// ConnectionCount returns the number of open client connections.
func (ws *Websocket) ConnectionCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.conns)
}

// PendingReplyCount returns the number of messages clients were asked to answer and
// whose senders still wait.
func (ws *Websocket) PendingReplyCount() int {
	ws.mu.Lock()
	conns := make([]*conn, 0, len(ws.conns))
	for c := range ws.conns {
		conns = append(conns, c)
	}
	ws.mu.Unlock()
	n := 0
	for _, c := range conns {
		c.mu.Lock()
		c.pruneRepliesLocked()
		n += len(c.replies)
		c.mu.Unlock()
	}
	return n
}

func (ws *Websocket) Printf(format string, v ...interface{}) {
	types.NewLogger(ws.Env.Config.Logger).Printf(format, v...)
}

func (ws *Websocket) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(ws.Config.AllowedOrigins) == 0 {
		return strings.HasSuffix(origin, "://"+r.Host)
	}
	for _, allowed := range ws.Config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (ws *Websocket) handler(ctx *router.RoutingContext) {
	if !websocket.IsWebSocketUpgrade(ctx.Request()) {
		_ = ctx.Fail(http.StatusBadRequest)
		return
	}
	err := ctx.Response().Hijack(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := ws.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.Printf("upgrade: %v", err)
			return
		}
		c := newConn(ws, wsConn)
		if !ws.track(c) {
			c.close()
			return
		}
		if ws.OnEvent != nil {
			ws.OnEvent(endpoint.EventConnect, r)
		}
		go c.serve()
	})
	if err != nil {
		ws.Printf("ws handler err :%v", err)
	}
}

func (ws *Websocket) track(c *conn) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conns == nil {
		return false
	}
	ws.conns[c] = struct{}{}
	return true
}

func (ws *Websocket) untrack(c *conn) {
	ws.mu.Lock()
	if ws.conns != nil {
		delete(ws.conns, c)
	}
	ws.mu.Unlock()
	if ws.OnEvent != nil {
		ws.OnEvent(endpoint.EventDisconnect, c.remoteAddr())
	}
}

func (ws *Websocket) inboundAllowed(address string) bool {
	return allowed(ws.inbound, address)
}

func (ws *Websocket) outboundAllowed(address string) bool {
	return allowed(ws.outbound, address)
}

func allowed(list []permitted, address string) bool {
	for _, p := range list {
		if p.match(address) {
			return true
		}
	}
	return false
}

// conn is one client connection. Reads happen on the serve goroutine, writes are
// serialized by writeMu since bus callbacks write from pool workers.
type conn struct {
	ws   *Websocket
	conn *websocket.Conn

	writeMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]*eventbus.Subscription
	// messages delivered to the client that wait for its reply, by reply address.
	replies map[string]*eventbus.Message
}

func newConn(ws *Websocket, c *websocket.Conn) *conn {
	c.SetReadLimit(ws.Config.MaxMessageSize)
	return &conn{
		ws:            ws,
		conn:          c,
		subscriptions: make(map[string]*eventbus.Subscription),
		replies:       make(map[string]*eventbus.Message),
	}
}

func (c *conn) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *conn) serve() {
	defer func() {
		if e := recover(); e != nil {
			c.ws.Printf("ws connection %s err :%v", c.remoteAddr(), e)
		}
		c.close()
		c.ws.untrack(c)
	}()
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.writeErr("", 0, "", "invalid frame: "+err.Error())
			continue
		}
		c.dispatch(frame)
	}
}

func (c *conn) dispatch(frame Frame) {
	bus := c.ws.Env.Bus
	switch frame.Type {
	case FramePing:
		c.write(Frame{Type: FramePong})
	case FrameSend:
		if msg := c.takeReply(frame.Address); msg != nil {
			c.replyTo(msg, frame)
			return
		}
		if !c.ws.inboundAllowed(frame.Address) {
			c.writeErr(frame.Address, 0, "", ErrAccessDenied.Error())
			return
		}
		opts := c.deliveryOptions(frame)
		var err error
		if frame.ReplyAddress == "" {
			err = bus.Send(frame.Address, frame.Body, opts...)
		} else {
			err = bus.Request(frame.Address, frame.Body, c.replyHandler(frame.ReplyAddress), opts...)
		}
		if err != nil {
			c.writeErr(frame.Address, 0, "", err.Error())
		}
	case FramePublish:
		if !c.ws.inboundAllowed(frame.Address) {
			c.writeErr(frame.Address, 0, "", ErrAccessDenied.Error())
			return
		}
		if err := bus.Publish(frame.Address, frame.Body, c.deliveryOptions(frame)...); err != nil {
			c.writeErr(frame.Address, 0, "", err.Error())
		}
	case FrameRegister:
		if !c.ws.outboundAllowed(frame.Address) {
			c.writeErr(frame.Address, 0, "", ErrAccessDenied.Error())
			return
		}
		c.register(frame.Address)
	case FrameUnregister:
		c.unregister(frame.Address)
	default:
		c.writeErr(frame.Address, 0, "", "unknown frame type: "+frame.Type)
	}
}

func (c *conn) deliveryOptions(frame Frame) []eventbus.DeliveryOption {
	var opts []eventbus.DeliveryOption
	if len(frame.Headers) > 0 {
		opts = append(opts, eventbus.WithHeaders(frame.Headers))
	}
	if c.ws.Config.ReplyTimeout > 0 {
		opts = append(opts, eventbus.WithTimeout(c.ws.Config.ReplyTimeout))
	}
	return opts
}

// replyHandler forwards the reply to a client request to the client reply address.
func (c *conn) replyHandler(clientAddress string) eventbus.ReplyHandler {
	return func(reply *eventbus.Message, err error) {
		if err != nil {
			var replyErr *eventbus.ReplyError
			if errors.As(err, &replyErr) {
				c.writeErr(clientAddress, replyErr.Code, replyErr.Type.String(), replyErr.Message)
			} else {
				c.writeErr(clientAddress, 0, "", err.Error())
			}
			return
		}
		c.deliver(clientAddress, reply)
	}
}

// replyTo answers a bus message the client received, possibly asking for a reply again.
func (c *conn) replyTo(msg *eventbus.Message, frame Frame) {
	opts := c.deliveryOptions(frame)
	var err error
	if frame.ReplyAddress == "" {
		err = msg.Reply(frame.Body, opts...)
	} else {
		err = msg.ReplyAndRequest(frame.Body, c.replyHandler(frame.ReplyAddress), opts...)
	}
	if err != nil {
		c.writeErr(frame.Address, 0, "", err.Error())
	}
}

func (c *conn) register(address string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, ok := c.subscriptions[address]; ok {
		c.mu.Unlock()
		return
	}
	sub := c.ws.Env.Bus.Consumer(address, func(msg *eventbus.Message) {
		c.deliver(address, msg)
	})
	c.subscriptions[address] = sub
	c.mu.Unlock()
	sub.Completion(func(err error) {
		if err != nil {
			c.mu.Lock()
			delete(c.subscriptions, address)
			c.mu.Unlock()
			c.writeErr(address, 0, "", err.Error())
		}
	})
}

func (c *conn) unregister(address string) {
	c.mu.Lock()
	sub := c.subscriptions[address]
	delete(c.subscriptions, address)
	c.mu.Unlock()
	if sub != nil {
		_ = sub.Unregister()
	}
}

// deliver writes msg to the client as a rec frame. A message waiting for a reply is
// kept until the client answers it, its sender stops waiting or the connection closes.
func (c *conn) deliver(address string, msg *eventbus.Message) {
	if replyAddress := msg.ReplyAddress(); replyAddress != "" {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = msg.Fail(http.StatusServiceUnavailable, "websocket client disconnected")
			return
		}
		c.pruneRepliesLocked()
		c.replies[replyAddress] = msg
		c.mu.Unlock()
	}
	headers := msg.Headers()
	frame := Frame{Type: FrameRec, Address: address, Body: msg.Body(), ReplyAddress: msg.ReplyAddress()}
	if len(headers) > 0 {
		frame.Headers = headers
	}
	c.write(frame)
}

// pruneRepliesLocked drops the messages whose senders no longer wait for a reply.
func (c *conn) pruneRepliesLocked() {
	for address, msg := range c.replies {
		if !msg.AwaitingReply() {
			delete(c.replies, address)
		}
	}
}

func (c *conn) takeReply(address string) *eventbus.Message {
	if !strings.HasPrefix(address, eventbus.ReplyAddressPrefix) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.replies[address]
	delete(c.replies, address)
	return msg
}

func (c *conn) writeErr(address string, code int, failureType, message string) {
	c.write(Frame{Type: FrameErr, Address: address, FailureCode: code, FailureType: failureType, Message: message})
}

func (c *conn) write(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.ws.Printf("ws encode frame for %s: %v", frame.Address, err)
		data, _ = json.Marshal(Frame{Type: FrameErr, Address: frame.Address, Message: err.Error()})
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.ws.Config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.ws.Printf("ws write to %s: %v", c.remoteAddr(), err)
	}
}

// close unregisters the connection consumers and fails the messages it still owes a reply.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subscriptions
	replies := c.replies
	c.subscriptions = map[string]*eventbus.Subscription{}
	c.replies = map[string]*eventbus.Message{}
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unregister()
	}
	for _, msg := range replies {
		_ = msg.Fail(http.StatusServiceUnavailable, "websocket client disconnected")
	}
	_ = c.conn.Close()
}
