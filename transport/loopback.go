package transport

import "time"

var _ Transport = (*Loopback)(nil)

// Loopback is an in-memory transport that feeds flushed datagrams back
// into its own receive path. It is intended for testing purposes and
// for wiring two endpoints together in the same process.
type Loopback struct {
	queue [][]byte

	recvBuf *Buffer
	sendBuf *Buffer

	readErr  error
	writeErr error

	closed bool
}

// NewLoopback returns a new loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		recvBuf: NewBuffer(),
		sendBuf: NewBuffer(),
	}
}

// Stage enqueues a datagram for a later ReadSome.
// The bytes are copied.
func (l *Loopback) Stage(datagram []byte) {
	staged := make([]byte, len(datagram))
	copy(staged, datagram)
	l.queue = append(l.queue, staged)
}

// FailReads makes every following ReadSome return the given error.
func (l *Loopback) FailReads(err error) {
	l.readErr = err
}

// FailWrites makes every following WriteSome return the given error.
func (l *Loopback) FailWrites(err error) {
	l.writeErr = err
}

// ReadSome pops the next staged datagram into the receive buffer.
// It returns ErrReadTimeout when no datagram is staged.
func (l *Loopback) ReadSome() error {
	if l.readErr != nil {
		return l.readErr
	}
	if l.closed {
		return ErrClosed
	}
	if len(l.queue) == 0 {
		return ErrReadTimeout
	}

	datagram := l.queue[0]
	l.queue = l.queue[1:]

	l.recvBuf.Reset()
	l.recvBuf.Append(datagram)

	return nil
}

// WriteSome moves the content of the send buffer to the staged queue.
func (l *Loopback) WriteSome() error {
	if l.writeErr != nil {
		return l.writeErr
	}
	if l.closed {
		return ErrClosed
	}

	l.Stage(l.sendBuf.Bytes())
	l.sendBuf.Reset()

	return nil
}

// ReserveSendBuffer returns the send buffer for appending.
func (l *Loopback) ReserveSendBuffer() *Buffer {
	return l.sendBuf
}

// ReceiveBuffer returns the buffer populated by ReadSome.
func (l *Loopback) ReceiveBuffer() *Buffer {
	return l.recvBuf
}

// SetReadTimeout is a no-op, loopback reads never block.
func (l *Loopback) SetReadTimeout(_ time.Duration) {}

// Close closes the transport.
func (l *Loopback) Close() error {
	l.closed = true
	return nil
}
