// Package protocol contains the protocol layers that turn raw
// transport bytes into typed messages and back.
//
// Layers compose like decorators: an outer layer parses its own header
// and forwards the remaining bytes to the next layer, the innermost
// (leaf) layer produces the message. On the write path the layers
// append their headers in the same outer-to-inner order, so the wire
// layout always mirrors the composition order.
package protocol

import (
	"time"

	"github.com/leemit/actor-framework/transport"
)

// HeaderWriter is a callback that appends the application header
// to the outgoing buffer.
type HeaderWriter func(buf *transport.Buffer) error

// TagKind identifies the protocol layer a timeout tag belongs to.
type TagKind uint8

const (
	// TagKindOrdering tags the retransmission timeouts scheduled
	// by the ordering layer.
	TagKindOrdering TagKind = iota
)

func (tk TagKind) String() string {
	switch tk {
	case TagKindOrdering:
		return "ordering"
	default:
		return "unknown"
	}
}

// Tag identifies a scheduled timeout. Kind selects the layer the
// timeout belongs to, Seq carries the layer specific payload.
type Tag struct {
	Kind TagKind
	Seq  uint32
}

// TimeoutScheduler schedules the redelivery of a tag to the endpoint
// driving the protocol chain. Delivery happens no earlier than the
// given delay, on the same sequential event stream as reads.
type TimeoutScheduler interface {
	RequestTimeout(delay time.Duration, tag Tag)
}

// Layer is a single protocol layer. Layers are composed at
// construction time, see Ordering and Basp.
//
// Read and Timeout return a nil message with a nil error when there is
// nothing to deliver (e.g. the bytes were buffered for re-ordering).
// This outcome is not a failure and callers must treat it as distinct
// from an error.
type Layer interface {
	// Offset returns the total header size of this layer and
	// everything below it.
	Offset() int

	// Read decodes the given bytes.
	Read(s TimeoutScheduler, buf []byte) (*Message, error)

	// Timeout handles a redelivered tag. Layers that do not own the
	// tag delegate it to the next layer unchanged.
	Timeout(s TimeoutScheduler, tag Tag) (*Message, error)

	// WriteHeader appends this layer's header to the buffer and
	// delegates to the next layer with the advanced offset.
	WriteHeader(buf *transport.Buffer, offset int, hw HeaderWriter) (int, error)
}

// Codec is the uniform interface an endpoint holds its protocol chain
// through, hiding the concrete layer composition.
type Codec interface {
	Offset() int
	Read(s TimeoutScheduler, buf []byte) (*Message, error)
	Timeout(s TimeoutScheduler, tag Tag) (*Message, error)
	WriteHeader(buf *transport.Buffer, hw HeaderWriter) (int, error)
}

var _ Codec = (*Chain)(nil)

// Chain adapts a concrete layer stack to the Codec interface.
// It is pure forwarding and carries no state of its own.
type Chain struct {
	layer Layer
}

// NewChain returns a new chain wrapping the given layer stack.
func NewChain(layer Layer) *Chain {
	return &Chain{
		layer: layer,
	}
}

// Offset returns the total header size of the chain.
func (c *Chain) Offset() int {
	return c.layer.Offset()
}

// Read decodes the given bytes through the chain.
func (c *Chain) Read(s TimeoutScheduler, buf []byte) (*Message, error) {
	return c.layer.Read(s, buf)
}

// Timeout handles a redelivered tag through the chain.
func (c *Chain) Timeout(s TimeoutScheduler, tag Tag) (*Message, error) {
	return c.layer.Timeout(s, tag)
}

// WriteHeader lets every layer of the chain append its header and
// returns the offset at which the payload begins.
func (c *Chain) WriteHeader(buf *transport.Buffer, hw HeaderWriter) (int, error) {
	return c.layer.WriteHeader(buf, 0, hw)
}
