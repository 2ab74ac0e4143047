// Package transport contains the transports an endpoint can read
// datagrams from and send datagrams to.
//
// A transport owns its receive and send buffers. The buffers live for
// the lifetime of the transport and are overwritten in place on each
// read/flush, there is no per-event allocation for the buffers
// themselves.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrClosed is returned when the transport is closed
	// or the end of a replayed capture is reached.
	ErrClosed = errors.New("transport is closed")

	// ErrReadTimeout is returned by ReadSome when no datagram
	// arrived within the configured read timeout.
	ErrReadTimeout = errors.New("read timed out")

	// ErrReadOnly is returned by WriteSome on read-only transports.
	ErrReadOnly = errors.New("transport is read-only")

	// ErrNoPeer is returned by WriteSome when the destination
	// of the datagram is unknown.
	ErrNoPeer = errors.New("no peer to send to")
)

// Transport abstracts a datagram byte source/sink.
// All failures are reported as error values.
type Transport interface {
	// ReadSome populates the receive buffer with the next datagram.
	ReadSome() error

	// WriteSome flushes the send buffer.
	WriteSome() error

	// ReserveSendBuffer returns the send buffer for appending.
	ReserveSendBuffer() *Buffer

	// ReceiveBuffer returns the buffer populated by ReadSome.
	ReceiveBuffer() *Buffer

	// SetReadTimeout bounds the time a single ReadSome may block.
	// A zero timeout blocks indefinitely.
	SetReadTimeout(timeout time.Duration)

	// Close closes the transport.
	Close() error
}
