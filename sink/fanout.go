package sink

import (
	newb "github.com/leemit/actor-framework"
	"github.com/leemit/actor-framework/protocol"
)

var _ newb.Handler = (*Fanout)(nil)

// Fanout is a handler that forwards every delivered message to a list
// of handlers, in order.
type Fanout struct {
	handlers []newb.Handler
}

// NewFanout returns a new fanout over the given handlers.
func NewFanout(handlers ...newb.Handler) *Fanout {
	return &Fanout{
		handlers: handlers,
	}
}

// Handle forwards the message to every handler.
func (f *Fanout) Handle(msg *protocol.Message) {
	for _, handler := range f.handlers {
		handler.Handle(msg)
	}
}
