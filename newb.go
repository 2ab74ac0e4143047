// Package newb provides the network endpoint that drives a transport
// and a protocol chain.
//
// An endpoint owns exactly one transport and one protocol chain and is
// processed by a single logical thread of control: read events, write
// reservations and timeout events happen strictly sequentially, see
// Runner. Concurrency only arises from multiple independent endpoints.
package newb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/leemit/actor-framework/internal/telemetry"
	"github.com/leemit/actor-framework/protocol"
	"github.com/leemit/actor-framework/timer"
	"github.com/leemit/actor-framework/transport"
)

// UseOTelLogger switches the library's logging from the console to the
// OpenTelemetry slog bridge. Call it once, after the global logger
// provider has been configured.
func UseOTelLogger() {
	telemetry.UseOTelLogger()
}

// Handler consumes the messages an endpoint decodes. It is invoked
// synchronously from within the endpoint's event processing and must
// not block.
//
// The payload of the message aliases the endpoint's receive buffer (or
// a pending-table entry being replayed) and is only valid for the
// duration of the call. Handlers that retain it must copy.
type Handler interface {
	Handle(msg *protocol.Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg *protocol.Message)

// Handle calls the function.
func (f HandlerFunc) Handle(msg *protocol.Message) {
	f(msg)
}

// WriteHandle is returned by ReserveWrite. It exposes the send buffer
// with every protocol header already written, the offset at which the
// payload begins and the chain that produced the headers.
//
// A handle is only valid until the next reservation on the same
// endpoint and must not be retained across events.
type WriteHandle struct {
	Buf          *transport.Buffer
	HeaderOffset int
	Codec        protocol.Codec
}

var _ protocol.TimeoutScheduler = (*Endpoint)(nil)

// Endpoint owns one transport and one protocol chain and orchestrates
// read, write and timeout events between them.
type Endpoint struct {
	tel *telemetry.Telemetry

	transport transport.Transport
	chain     protocol.Codec

	handler   Handler
	scheduler timer.Scheduler

	// Metrics
	deliveredMsgs atomic.Int64
	readEvents    atomic.Int64
	timeoutEvents atomic.Int64
	writeEvents   atomic.Int64
}

// NewEndpoint returns a new endpoint.
func NewEndpoint(t transport.Transport, chain protocol.Codec, handler Handler, scheduler timer.Scheduler) *Endpoint {
	tel := telemetry.NewTelemetry("endpoint", "newb")

	e := &Endpoint{
		tel: tel,

		transport: t,
		chain:     chain,

		handler:   handler,
		scheduler: scheduler,
	}

	e.initMetrics()

	return e
}

func (e *Endpoint) initMetrics() {
	e.tel.NewCounter("delivered_messages", func() int64 { return e.deliveredMsgs.Load() })
	e.tel.NewCounter("read_events", func() int64 { return e.readEvents.Load() })
	e.tel.NewCounter("timeout_events", func() int64 { return e.timeoutEvents.Load() })
	e.tel.NewCounter("write_events", func() int64 { return e.writeEvents.Load() })
}

// ReserveWrite reserves the transport's send buffer for one outgoing
// message: every protocol layer appends its header, outer to inner,
// the application header being written by the given header writer.
// The caller appends the payload directly onto the returned handle's
// buffer and then calls Flush.
func (e *Endpoint) ReserveWrite(hw protocol.HeaderWriter) (WriteHandle, error) {
	e.writeEvents.Add(1)

	buf := e.transport.ReserveSendBuffer()

	// A failed flush or header writer leaves its bytes behind,
	// every reservation starts from an empty buffer.
	buf.Reset()

	headerOffset, err := e.chain.WriteHeader(buf, hw)
	if err != nil {
		return WriteHandle{}, err
	}

	return WriteHandle{
		Buf:          buf,
		HeaderOffset: headerOffset,
		Codec:        e.chain,
	}, nil
}

// Flush hands the filled send buffer to the transport for
// transmission.
func (e *Endpoint) Flush() error {
	return e.transport.WriteSome()
}

// OnReadEvent pulls the next datagram from the transport and decodes
// it through the protocol chain.
//
// It returns (true, nil) when a message was delivered to the handler,
// (false, nil) when there was nothing to deliver (e.g. the bytes were
// buffered for re-ordering) and (false, err) when the transport or the
// decoding failed.
func (e *Endpoint) OnReadEvent() (bool, error) {
	e.readEvents.Add(1)

	if err := e.transport.ReadSome(); err != nil {
		return false, err
	}

	_, span := e.tel.NewTrace(context.Background(), "read_event")
	defer span.End()

	msg, err := e.chain.Read(e, e.transport.ReceiveBuffer().Bytes())
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	e.dispatch(msg)

	return true, nil
}

// OnTimeoutEvent hands a fired tag to the protocol chain. The outcome
// contract is the same as for OnReadEvent.
func (e *Endpoint) OnTimeoutEvent(tag protocol.Tag) (bool, error) {
	_, span := e.tel.NewTrace(context.Background(), "timeout_event")
	defer span.End()

	e.timeoutEvents.Add(1)

	msg, err := e.chain.Timeout(e, tag)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	e.dispatch(msg)

	return true, nil
}

// RequestTimeout asks the scheduling collaborator to redeliver the tag
// to OnTimeoutEvent after the delay.
func (e *Endpoint) RequestTimeout(delay time.Duration, tag protocol.Tag) {
	e.scheduler.Schedule(delay, tag)
}

func (e *Endpoint) dispatch(msg *protocol.Message) {
	e.handler.Handle(msg)
	e.deliveredMsgs.Add(1)
}

// Close closes the endpoint's transport.
func (e *Endpoint) Close() error {
	return e.transport.Close()
}
