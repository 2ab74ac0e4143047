package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leemit/actor-framework/transport"
)

type baspTD struct {
	msg         *Message
	encodedData []byte
}

var baspTestData = baspTD{
	msg: &Message{
		Header:  BaspHeader{From: 13, To: 42},
		Payload: []byte{0, 0, 0x05, 0x39},
	},

	encodedData: []byte{
		0, 0, 0, 0, 0, 0, 0, 13, // From
		0, 0, 0, 0, 0, 0, 0, 42, // To
		0, 0, 0x05, 0x39, // Payload
	},
}

func Test_Basp_Read(t *testing.T) {
	assert := assert.New(t)

	basp := NewBasp()

	msg, err := basp.Read(nil, baspTestData.encodedData)
	assert.NoError(err)
	assert.Equal(baspTestData.msg, msg)
}

func Test_Basp_Read_NotEnoughData(t *testing.T) {
	assert := assert.New(t)

	basp := NewBasp()

	for size := range BaspHeaderSize {
		msg, err := basp.Read(nil, baspTestData.encodedData[:size])
		assert.ErrorIs(err, ErrNotEnoughData)
		assert.Nil(msg)
	}
}

func Test_Basp_Read_EmptyPayload(t *testing.T) {
	assert := assert.New(t)

	basp := NewBasp()

	msg, err := basp.Read(nil, baspTestData.encodedData[:BaspHeaderSize])
	assert.NoError(err)
	assert.Equal(baspTestData.msg.Header, msg.Header)
	assert.Empty(msg.Payload)
}

func Test_Basp_WriteHeader(t *testing.T) {
	assert := assert.New(t)

	basp := NewBasp()
	buf := new(transport.Buffer)

	offset, err := basp.WriteHeader(buf, 0, WriteBaspHeader(baspTestData.msg.Header))
	assert.NoError(err)
	assert.Equal(BaspHeaderSize, offset)
	assert.Equal(baspTestData.encodedData[:BaspHeaderSize], buf.Bytes())
}

func Test_Basp_Timeout(t *testing.T) {
	assert := assert.New(t)

	basp := NewBasp()

	msg, err := basp.Timeout(nil, Tag{Kind: TagKindOrdering, Seq: 0})
	assert.NoError(err)
	assert.Nil(msg)
}

func Benchmark_Basp_Read(b *testing.B) {
	b.ReportAllocs()

	basp := NewBasp()
	for b.Loop() {
		_, err := basp.Read(nil, baspTestData.encodedData)
		if err != nil {
			b.Fatal(err)
		}
	}
}
