// Package sink contains handlers that consume the messages an
// endpoint delivers.
package sink

import (
	newb "github.com/leemit/actor-framework"
	"github.com/leemit/actor-framework/protocol"
)

var _ newb.Handler = (*Memory)(nil)

// Memory is a handler that records every delivered message.
// It is intended for testing purposes.
type Memory struct {
	messages []protocol.Message
}

// NewMemory returns a new memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Handle records the message. The payload is copied, the view into the
// receive buffer does not outlive the event.
func (m *Memory) Handle(msg *protocol.Message) {
	owned := make([]byte, len(msg.Payload))
	copy(owned, msg.Payload)

	m.messages = append(m.messages, protocol.Message{
		Header:  msg.Header,
		Payload: owned,
	})
}

// Messages returns the recorded messages in delivery order.
func (m *Memory) Messages() []protocol.Message {
	return m.messages
}
