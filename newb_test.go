package newb_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	newb "github.com/leemit/actor-framework"
	"github.com/leemit/actor-framework/protocol"
	"github.com/leemit/actor-framework/sink"
	"github.com/leemit/actor-framework/timer"
	"github.com/leemit/actor-framework/transport"
)

func newLoopbackEndpoint(scheduler timer.Scheduler) (*newb.Endpoint, *transport.Loopback, *sink.Memory) {
	loopback := transport.NewLoopback()
	memory := sink.NewMemory()

	chain := protocol.NewChain(
		protocol.NewOrdering(protocol.NewBasp(), protocol.NewOrderingConfig()),
	)

	return newb.NewEndpoint(loopback, chain, memory, scheduler), loopback, memory
}

// encodeDatagram builds the wire bytes of one sequenced BASP message.
func encodeDatagram(seq uint32, hdr protocol.BaspHeader, payload []byte) []byte {
	buf := transport.NewBuffer()
	buf.AppendUint32(seq)
	buf.AppendUint64(hdr.From)
	buf.AppendUint64(hdr.To)
	buf.Append(payload)
	return buf.Bytes()
}

func Test_Endpoint_WriteReadRoundTrip(t *testing.T) {
	assert := assert.New(t)

	endpoint, _, memory := newLoopbackEndpoint(timer.NewRecording())
	hdr := protocol.BaspHeader{From: 13, To: 42}

	whdl, err := endpoint.ReserveWrite(protocol.WriteBaspHeader(hdr))
	assert.NoError(err)
	assert.Equal(protocol.OrderingHeaderSize+protocol.BaspHeaderSize, whdl.HeaderOffset)

	whdl.Buf.AppendUint32(1337)
	assert.NoError(endpoint.Flush())

	// The loopback feeds the flushed datagram back to the endpoint.
	delivered, err := endpoint.OnReadEvent()
	assert.NoError(err)
	assert.True(delivered)

	assert.Equal(
		[]protocol.Message{{Header: hdr, Payload: []byte{0, 0, 0x05, 0x39}}},
		memory.Messages(),
	)
}

func Test_Endpoint_ReserveAfterFailedFlush(t *testing.T) {
	assert := assert.New(t)

	recording := timer.NewRecording()
	endpoint, loopback, memory := newLoopbackEndpoint(recording)
	hdr := protocol.BaspHeader{From: 13, To: 42}

	whdl, err := endpoint.ReserveWrite(protocol.WriteBaspHeader(hdr))
	assert.NoError(err)
	whdl.Buf.AppendUint32(1111)

	sendErr := errors.New("send failed")
	loopback.FailWrites(sendErr)
	assert.ErrorIs(endpoint.Flush(), sendErr)
	loopback.FailWrites(nil)

	// The next reservation must not inherit the stale datagram: the
	// buffer holds exactly the fresh headers.
	whdl, err = endpoint.ReserveWrite(protocol.WriteBaspHeader(hdr))
	assert.NoError(err)
	assert.Equal(whdl.HeaderOffset, whdl.Buf.Len())

	whdl.Buf.AppendUint32(2222)
	assert.NoError(endpoint.Flush())

	// The failed flush consumed write sequence number 0, so the flushed
	// datagram carries 1 and is buffered until its timeout fires.
	delivered, err := endpoint.OnReadEvent()
	assert.NoError(err)
	assert.False(delivered)

	delivered, err = endpoint.OnTimeoutEvent(recording.Scheduled[0].Tag)
	assert.NoError(err)
	assert.True(delivered)

	assert.Equal(
		[]protocol.Message{{Header: hdr, Payload: []byte{0, 0, 0x08, 0xAE}}},
		memory.Messages(),
	)
}

func Test_Endpoint_OutOfOrderDelivery(t *testing.T) {
	assert := assert.New(t)

	recording := timer.NewRecording()
	endpoint, loopback, memory := newLoopbackEndpoint(recording)
	hdr := protocol.BaspHeader{From: 13, To: 42}

	loopback.Stage(encodeDatagram(1, hdr, []byte{1}))
	loopback.Stage(encodeDatagram(0, hdr, []byte{0}))

	// Sequence number 1 arrives first and gets buffered.
	delivered, err := endpoint.OnReadEvent()
	assert.NoError(err)
	assert.False(delivered)
	assert.Equal(
		[]timer.ScheduledTag{{
			Delay: protocol.DefaultOrderingConfigRetransmitTimeout,
			Tag:   protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 1},
		}},
		recording.Scheduled,
	)

	// Sequence number 0 goes straight through.
	delivered, err = endpoint.OnReadEvent()
	assert.NoError(err)
	assert.True(delivered)

	// Firing the recorded tag replays the buffered message.
	delivered, err = endpoint.OnTimeoutEvent(recording.Scheduled[0].Tag)
	assert.NoError(err)
	assert.True(delivered)

	assert.Equal(
		[]protocol.Message{
			{Header: hdr, Payload: []byte{0}},
			{Header: hdr, Payload: []byte{1}},
		},
		memory.Messages(),
	)
}

func Test_Endpoint_TimeoutWithoutPending(t *testing.T) {
	assert := assert.New(t)

	endpoint, _, memory := newLoopbackEndpoint(timer.NewRecording())

	delivered, err := endpoint.OnTimeoutEvent(protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 7})
	assert.NoError(err)
	assert.False(delivered)
	assert.Empty(memory.Messages())
}

func Test_Endpoint_ReadEventFailure(t *testing.T) {
	assert := assert.New(t)

	endpoint, loopback, _ := newLoopbackEndpoint(timer.NewRecording())

	delivered, err := endpoint.OnReadEvent()
	assert.ErrorIs(err, transport.ErrReadTimeout)
	assert.False(delivered)

	loopback.FailReads(transport.ErrClosed)

	delivered, err = endpoint.OnReadEvent()
	assert.ErrorIs(err, transport.ErrClosed)
	assert.False(delivered)
}

func Test_Endpoint_MalformedDatagram(t *testing.T) {
	assert := assert.New(t)

	endpoint, loopback, memory := newLoopbackEndpoint(timer.NewRecording())

	loopback.Stage([]byte{0, 0, 0, 0, 0xFF})

	delivered, err := endpoint.OnReadEvent()
	assert.ErrorIs(err, protocol.ErrNotEnoughData)
	assert.False(delivered)
	assert.Empty(memory.Messages())
}

var _ transport.Transport = (*countingTransport)(nil)

type countingTransport struct {
	*transport.Loopback

	readCalls atomic.Int64
}

func (c *countingTransport) ReadSome() error {
	c.readCalls.Add(1)
	return c.Loopback.ReadSome()
}

func Test_Runner_IdlePacing(t *testing.T) {
	assert := assert.New(t)

	counting := &countingTransport{Loopback: transport.NewLoopback()}

	chain := protocol.NewChain(
		protocol.NewOrdering(protocol.NewBasp(), protocol.NewOrderingConfig()),
	)
	endpoint := newb.NewEndpoint(counting, chain, sink.NewMemory(), timer.NewRecording())

	cfg := newb.NewRunnerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	runner := newb.NewRunner(endpoint, nil, cfg)

	ctx, cancelCtx := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelCtx()

	runner.Run(ctx)

	// Loopback reads never block, the runner must pace itself by the
	// poll interval instead of spinning. Roughly ten polls fit into the
	// window, a spin would do orders of magnitude more.
	assert.Positive(counting.readCalls.Load())
	assert.Less(counting.readCalls.Load(), int64(50))
}

func Test_Runner_StopsOnClosedTransport(t *testing.T) {
	assert := assert.New(t)

	timerService := timer.NewService(timer.NewServiceConfig())
	loopback := transport.NewLoopback()
	memory := sink.NewMemory()

	chain := protocol.NewChain(
		protocol.NewOrdering(protocol.NewBasp(), protocol.NewOrderingConfig()),
	)

	hdr := protocol.BaspHeader{From: 13, To: 42}
	loopback.Stage(encodeDatagram(0, hdr, []byte{0}))
	loopback.Stage(encodeDatagram(1, hdr, []byte{1}))

	// Closing the transport after the last delivery stops the runner.
	closer := newb.HandlerFunc(func(msg *protocol.Message) {
		memory.Handle(msg)

		if len(memory.Messages()) == 2 {
			assert.NoError(loopback.Close())
		}
	})

	endpoint := newb.NewEndpoint(loopback, chain, closer, timerService)
	runner := newb.NewRunner(endpoint, timerService, newb.NewRunnerConfig())

	done := make(chan struct{})
	go func() {
		runner.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(
		[]protocol.Message{
			{Header: hdr, Payload: []byte{0}},
			{Header: hdr, Payload: []byte{1}},
		},
		memory.Messages(),
	)
}
