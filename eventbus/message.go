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

package eventbus

import (
	"github.com/rulego/webbus/api/types"
)

// Message is delivered to consumers and reply handlers. It must not be modified
// after it is sent.
type Message struct {
	id           string
	address      string
	body         interface{}
	headers      types.Metadata
	replyAddress string
	send         bool
	bus          *EventBus
}

// ID returns the unique message id.
func (m *Message) ID() string {
	return m.id
}

// Address returns the address the message was sent to.
func (m *Message) Address() string {
	return m.address
}

// Body returns the message body.
func (m *Message) Body() interface{} {
	return m.body
}

// Headers returns a copy of the message headers.
func (m *Message) Headers() types.Metadata {
	return m.headers.Copy()
}

// Header returns header key, or "".
func (m *Message) Header(key string) string {
	return m.headers.GetValue(key)
}

// ReplyAddress returns the address replies go to, "" when the sender does not
// wait for a reply.
func (m *Message) ReplyAddress() string {
	return m.replyAddress
}

// AwaitingReply reports whether the sender still waits for a reply: it asked for
// one, and it was not answered, timed out or dropped by Close.
func (m *Message) AwaitingReply() bool {
	return m.replyAddress != "" && m.bus.hasPending(m.replyAddress)
}

// IsSend reports whether the message was sent point to point rather than published.
func (m *Message) IsSend() bool {
	return m.send
}

// Reply answers the message. Only the first reply reaches the sender; later ones,
// and replies to messages nobody waits on, return ErrReplyNotFound.
func (m *Message) Reply(body interface{}, opts ...DeliveryOption) error {
	return m.bus.reply(m, body, nil, newDeliveryOptions(opts))
}

// ReplyAndRequest answers the message and waits for the sender to answer the reply.
func (m *Message) ReplyAndRequest(body interface{}, handler ReplyHandler, opts ...DeliveryOption) error {
	if handler == nil {
		return ErrNilHandler
	}
	return m.bus.reply(m, body, handler, newDeliveryOptions(opts))
}

// Fail answers the message with a RecipientFailure carrying code and text.
func (m *Message) Fail(code int, text string) error {
	return m.bus.fail(m.replyAddress, &ReplyError{Type: RecipientFailure, Code: code, Message: text})
}
