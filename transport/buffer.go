package transport

import "encoding/binary"

// Buffer is a growable byte sequence used as the staging area for
// receiving and sending. The write path only appends, the read path
// accesses the bytes as a slice. Multi-byte values are appended in
// big-endian byte order, matching the wire format of the protocol
// layers.
type Buffer struct {
	data []byte
}

// NewBuffer returns a new empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the content of the buffer.
// The returned slice is only valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Reset empties the buffer keeping the underlying capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Append appends the given bytes to the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// AppendByte appends a single byte to the buffer.
func (b *Buffer) AppendByte(c byte) {
	b.data = append(b.data, c)
}

// AppendUint32 appends an unsigned 32 bit integer to the buffer.
func (b *Buffer) AppendUint32(v uint32) {
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

// AppendUint64 appends an unsigned 64 bit integer to the buffer.
func (b *Buffer) AppendUint64(v uint64) {
	b.data = binary.BigEndian.AppendUint64(b.data, v)
}
