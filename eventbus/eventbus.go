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

// Package eventbus is an in-process message bus with publish/subscribe,
// point to point and request-reply messaging between decoupled components.
//
// Package eventbus 进程内消息总线，支持发布订阅、点对点和请求响应。
//
//	bus := eventbus.New()
//	bus.Consumer("greetings", func(msg *eventbus.Message) {
//		_ = msg.Reply("hello " + msg.Body().(string))
//	})
//	_ = bus.Request("greetings", "alice", func(reply *eventbus.Message, err error) {
//		...
//	})
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/utils/runtime"
)

// ReplyAddressPrefix prefixes the generated reply addresses.
const ReplyAddressPrefix = "__webbus.reply."

// Handler consumes messages. It may run concurrently with itself.
type Handler func(msg *Message)

// ReplyHandler receives the outcome of a request: the reply, or an error, usually a
// *ReplyError. It is called exactly once.
type ReplyHandler func(reply *Message, err error)

// DeliveryContext is what an interceptor sees of a message about to be delivered.
type DeliveryContext struct {
	Message *Message
}

// Interceptor inspects every message sent or published to an address before it is
// delivered. Returning false drops the message.
type Interceptor func(dc *DeliveryContext) bool

// Subscription is a consumer registered at an address.
type Subscription struct {
	bus          *EventBus
	address      string
	handler      Handler
	err          error
	unregistered int32
}

// Address returns the address the consumer listens on.
func (s *Subscription) Address() string {
	return s.address
}

// Completion calls fn asynchronously once the registration is visible to senders,
// with the registration error if it failed.
func (s *Subscription) Completion(fn func(err error)) {
	s.bus.submit(func() {
		fn(s.err)
	})
}

// IsRegistered reports whether the consumer receives messages.
func (s *Subscription) IsRegistered() bool {
	return s.err == nil && atomic.LoadInt32(&s.unregistered) == 0
}

// Unregister stops deliveries to the consumer. Deliveries already scheduled may still run.
func (s *Subscription) Unregister() error {
	if s.err != nil {
		return s.err
	}
	if !atomic.CompareAndSwapInt32(&s.unregistered, 0, 1) {
		return nil
	}
	s.bus.remove(s)
	return nil
}

type handlerList struct {
	subs []*Subscription
	// next is shared by every copy of the list of an address
	next *uint64
}

func (l *handlerList) choose() *Subscription {
	n := atomic.AddUint64(l.next, 1) - 1
	return l.subs[n%uint64(len(l.subs))]
}

type pendingReply struct {
	address string
	handler ReplyHandler
	timer   *time.Timer
}

// EventBus delivers messages to consumers registered at string addresses.
// Consumers and reply handlers run on the configured pool.
type EventBus struct {
	config types.Config
	logger types.Logger
	pool   types.Pool

	mu           sync.Mutex
	handlers     atomic.Value // map[string]*handlerList
	interceptors atomic.Value // []Interceptor

	pendingMu sync.Mutex
	pending   map[string]*pendingReply

	closed int32
}

// New creates an event bus configured by opts.
func New(opts ...types.Option) *EventBus {
	return NewWithConfig(types.NewConfig(opts...))
}

// NewWithConfig creates an event bus sharing config, typically with a router.
func NewWithConfig(config types.Config) *EventBus {
	if config.Pool == nil {
		config.Pool = types.DefaultPool()
	}
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = types.DefaultReplyTimeout
	}
	b := &EventBus{
		config:  config,
		logger:  types.NewLogger(config.Logger),
		pool:    config.Pool,
		pending: make(map[string]*pendingReply),
	}
	b.handlers.Store(map[string]*handlerList{})
	b.interceptors.Store([]Interceptor(nil))
	return b
}

// Config returns the bus configuration.
func (b *EventBus) Config() types.Config {
	return b.config
}

// Consumer registers handler at address. The registration is visible to senders when
// Consumer returns; use Subscription.Completion to be notified asynchronously.
func (b *EventBus) Consumer(address string, handler Handler) *Subscription {
	sub := &Subscription{bus: b, address: address, handler: handler}
	switch {
	case address == "":
		sub.err = ErrEmptyAddress
	case handler == nil:
		sub.err = ErrNilHandler
	case b.isClosed():
		sub.err = ErrBusClosed
	default:
		b.add(sub)
	}
	return sub
}

// ConsumerCount returns the number of consumers registered at address.
func (b *EventBus) ConsumerCount(address string) int {
	if l := b.lookup(address); l != nil {
		return len(l.subs)
	}
	return 0
}

// AddInterceptor adds an interceptor. Interceptors run in the order they were added.
func (b *EventBus) AddInterceptor(interceptor Interceptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.interceptors.Load().([]Interceptor)
	next := make([]Interceptor, len(current), len(current)+1)
	copy(next, current)
	b.interceptors.Store(append(next, interceptor))
}

// Publish delivers body to every consumer registered at address when Publish is called.
// Each consumer receives the message once, asynchronously.
func (b *EventBus) Publish(address string, body interface{}, opts ...DeliveryOption) error {
	if err := b.check(address); err != nil {
		return err
	}
	msg := b.newMessage(address, body, "", false, newDeliveryOptions(opts))
	if !b.intercept(msg) {
		return nil
	}
	l := b.lookup(address)
	if l == nil {
		return nil
	}
	for _, sub := range l.subs {
		b.deliver(sub, msg)
	}
	return nil
}

// Send delivers body to exactly one consumer at address. Consumers of an address are
// chosen in round-robin order over those registered at send time. The message is
// dropped when there is no consumer.
func (b *EventBus) Send(address string, body interface{}, opts ...DeliveryOption) error {
	_, err := b.request(address, body, nil, newDeliveryOptions(opts))
	return err
}

// Request sends body to one consumer like Send and calls handler with its reply.
// handler receives a *ReplyError of type NoHandlers when there is no consumer,
// Timeout when no reply arrived in time and RecipientFailure when the consumer failed.
// handler is always called asynchronously, on the bus pool.
func (b *EventBus) Request(address string, body interface{}, handler ReplyHandler, opts ...DeliveryOption) error {
	_, err := b.request(address, body, handler, newDeliveryOptions(opts))
	return err
}

// RequestAndWait is the blocking form of Request. When ctx is done first it stops
// waiting and returns ctx.Err().
func (b *EventBus) RequestAndWait(ctx context.Context, address string, body interface{}, opts ...DeliveryOption) (*Message, error) {
	type result struct {
		msg *Message
		err error
	}
	ch := make(chan result, 1)
	replyAddress, err := b.request(address, body, func(reply *Message, err error) {
		ch <- result{msg: reply, err: err}
	}, newDeliveryOptions(opts))
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		b.takePending(replyAddress)
		return nil, ctx.Err()
	}
}

// Close fails every pending request with ErrBusClosed, unregisters all consumers and
// rejects further messages. The pool is left running, it may be shared.
func (b *EventBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	b.mu.Lock()
	for _, l := range b.handlers.Load().(map[string]*handlerList) {
		for _, sub := range l.subs {
			atomic.StoreInt32(&sub.unregistered, 1)
		}
	}
	b.handlers.Store(map[string]*handlerList{})
	b.mu.Unlock()

	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[string]*pendingReply)
	b.pendingMu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		b.callReply(p.handler, nil, ErrBusClosed)
	}
	return nil
}

func (b *EventBus) isClosed() bool {
	return atomic.LoadInt32(&b.closed) == 1
}

func (b *EventBus) check(address string) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if address == "" {
		return ErrEmptyAddress
	}
	return nil
}

func (b *EventBus) request(address string, body interface{}, handler ReplyHandler, opts DeliveryOptions) (string, error) {
	if err := b.check(address); err != nil {
		return "", err
	}
	var replyAddress string
	if handler != nil {
		replyAddress = b.addPending(handler, opts.Timeout)
	}
	msg := b.newMessage(address, body, replyAddress, true, opts)
	if !b.intercept(msg) {
		return replyAddress, nil
	}
	l := b.lookup(address)
	if l == nil {
		if replyAddress == "" {
			b.logger.Printf("no handlers for address %s, message %s dropped", address, msg.id)
		} else {
			_ = b.fail(replyAddress, &ReplyError{Type: NoHandlers, Code: -1, Message: "no handlers for address " + address})
		}
		return replyAddress, nil
	}
	b.deliver(l.choose(), msg)
	return replyAddress, nil
}

func (b *EventBus) newMessage(address string, body interface{}, replyAddress string, send bool, opts DeliveryOptions) *Message {
	return &Message{
		id:           newID(),
		address:      address,
		body:         body,
		headers:      opts.Headers,
		replyAddress: replyAddress,
		send:         send,
		bus:          b,
	}
}

func (b *EventBus) intercept(msg *Message) bool {
	interceptors := b.interceptors.Load().([]Interceptor)
	if len(interceptors) == 0 {
		return true
	}
	dc := &DeliveryContext{Message: msg}
	for _, interceptor := range interceptors {
		if !interceptor(dc) {
			return false
		}
	}
	return true
}

func (b *EventBus) deliver(sub *Subscription, msg *Message) {
	err := b.pool.Submit(func() {
		b.invoke(sub, msg)
	})
	if err != nil {
		b.logger.Printf("deliver message %s to %s error: %v", msg.id, msg.address, err)
		if msg.replyAddress != "" {
			_ = b.fail(msg.replyAddress, &ReplyError{Type: RecipientFailure, Code: -1, Message: err.Error()})
		}
	}
}

func (b *EventBus) invoke(sub *Subscription, msg *Message) {
	defer func() {
		if v := recover(); v != nil {
			b.logger.Printf("consumer of %s panic: %v\n%s", msg.address, v, runtime.Stack())
			if msg.replyAddress != "" {
				_ = b.fail(msg.replyAddress, &ReplyError{Type: RecipientFailure, Code: -1, Message: fmt.Sprint(v)})
			}
		}
	}()
	if atomic.LoadInt32(&sub.unregistered) == 1 {
		if msg.replyAddress != "" {
			_ = b.fail(msg.replyAddress, &ReplyError{Type: NoHandlers, Code: -1, Message: "consumer unregistered at " + msg.address})
		}
		return
	}
	sub.handler(msg)
}

func (b *EventBus) reply(m *Message, body interface{}, handler ReplyHandler, opts DeliveryOptions) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if m.replyAddress == "" {
		return ErrReplyNotFound
	}
	p := b.takePending(m.replyAddress)
	if p == nil {
		return ErrReplyNotFound
	}
	var next string
	if handler != nil {
		next = b.addPending(handler, opts.Timeout)
	}
	reply := b.newMessage(m.replyAddress, body, next, true, opts)
	b.callReply(p.handler, reply, nil)
	return nil
}

func (b *EventBus) fail(replyAddress string, err *ReplyError) error {
	if replyAddress == "" {
		return ErrReplyNotFound
	}
	p := b.takePending(replyAddress)
	if p == nil {
		return ErrReplyNotFound
	}
	b.callReply(p.handler, nil, err)
	return nil
}

func (b *EventBus) callReply(handler ReplyHandler, reply *Message, err error) {
	fn := func() {
		defer func() {
			if v := recover(); v != nil {
				b.logger.Printf("reply handler panic: %v\n%s", v, runtime.Stack())
			}
		}()
		handler(reply, err)
	}
	if submitErr := b.pool.Submit(fn); submitErr != nil {
		go fn()
	}
}

func (b *EventBus) submit(fn func()) {
	if err := b.pool.Submit(fn); err != nil {
		go fn()
	}
}

func (b *EventBus) addPending(handler ReplyHandler, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = b.config.ReplyTimeout
	}
	address := ReplyAddressPrefix + newID()
	p := &pendingReply{address: address, handler: handler}
	b.pendingMu.Lock()
	b.pending[address] = p
	p.timer = time.AfterFunc(timeout, func() {
		_ = b.fail(address, &ReplyError{
			Type:    Timeout,
			Code:    -1,
			Message: fmt.Sprintf("timed out after waiting %s for a reply, reply address: %s", timeout, address),
		})
	})
	b.pendingMu.Unlock()
	return address
}

func (b *EventBus) hasPending(address string) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	_, ok := b.pending[address]
	return ok
}

func (b *EventBus) takePending(address string) *pendingReply {
	b.pendingMu.Lock()
	p := b.pending[address]
	delete(b.pending, address)
	b.pendingMu.Unlock()
	if p != nil {
		p.timer.Stop()
	}
	return p
}

func (b *EventBus) lookup(address string) *handlerList {
	l := b.handlers.Load().(map[string]*handlerList)[address]
	if l == nil || len(l.subs) == 0 {
		return nil
	}
	return l
}

func (b *EventBus) add(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.handlers.Load().(map[string]*handlerList)
	next := make(map[string]*handlerList, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	l := &handlerList{next: new(uint64)}
	if old := current[sub.address]; old != nil {
		l.subs = append(l.subs, old.subs...)
		l.next = old.next
	}
	l.subs = append(l.subs, sub)
	next[sub.address] = l
	b.handlers.Store(next)
}

func (b *EventBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.handlers.Load().(map[string]*handlerList)
	old := current[sub.address]
	if old == nil {
		return
	}
	next := make(map[string]*handlerList, len(current))
	for k, v := range current {
		next[k] = v
	}
	l := &handlerList{next: old.next}
	for _, s := range old.subs {
		if s != sub {
			l.subs = append(l.subs, s)
		}
	}
	if len(l.subs) == 0 {
		delete(next, sub.address)
	} else {
		next[sub.address] = l
	}
	b.handlers.Store(next)
}

func newID() string {
	uuId, _ := uuid.NewV4()
	return uuId.String()
}
