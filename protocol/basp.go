package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/leemit/actor-framework/transport"
)

// ErrNotEnoughData is returned when a buffer is shorter than the fixed
// header a layer expects.
var ErrNotEnoughData = errors.New("not enough data")

// BaspHeaderSize is the wire size of the BASP header:
// two 8 byte endpoint identifiers.
const BaspHeaderSize = 16

// BaspHeader is the fixed application header of a BASP message.
// All fields are encoded big-endian on the wire.
type BaspHeader struct {
	From uint64
	To   uint64
}

// Message is a decoded BASP message.
//
// Payload is a view into the buffer the message was decoded from, not
// a copy. It is only valid while that buffer is untouched, i.e. for
// the duration of the read or timeout event that produced the message.
// Handlers that retain the payload past the event must copy it.
type Message struct {
	Header  BaspHeader
	Payload []byte
}

var _ Layer = (*Basp)(nil)

// Basp is the leaf protocol layer for the BASP application protocol.
// It has no buffering state.
type Basp struct{}

// NewBasp returns the BASP leaf layer.
func NewBasp() Basp {
	return Basp{}
}

// Offset returns the BASP header size.
func (Basp) Offset() int {
	return BaspHeaderSize
}

// Read decodes the header fields and takes the remaining bytes as the
// payload view.
func (Basp) Read(_ TimeoutScheduler, buf []byte) (*Message, error) {
	if len(buf) < BaspHeaderSize {
		return nil, ErrNotEnoughData
	}

	return &Message{
		Header: BaspHeader{
			From: binary.BigEndian.Uint64(buf[0:8]),
			To:   binary.BigEndian.Uint64(buf[8:16]),
		},
		Payload: buf[BaspHeaderSize:],
	}, nil
}

// Timeout never matches, the leaf has no buffering state.
func (Basp) Timeout(_ TimeoutScheduler, _ Tag) (*Message, error) {
	return nil, nil
}

// WriteHeader invokes the caller-supplied header writer and advances
// the offset by the header size.
func (Basp) WriteHeader(buf *transport.Buffer, offset int, hw HeaderWriter) (int, error) {
	if err := hw(buf); err != nil {
		return 0, err
	}

	return offset + BaspHeaderSize, nil
}

// WriteBaspHeader returns a header writer that appends the given
// header fields.
func WriteBaspHeader(hdr BaspHeader) HeaderWriter {
	return func(buf *transport.Buffer) error {
		buf.AppendUint64(hdr.From)
		buf.AppendUint64(hdr.To)
		return nil
	}
}
