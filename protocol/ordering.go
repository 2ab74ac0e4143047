package protocol

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/leemit/actor-framework/internal/config"
	"github.com/leemit/actor-framework/internal/telemetry"
	"github.com/leemit/actor-framework/transport"
)

// OrderingHeaderSize is the wire size of the sequencing header:
// one unsigned 32 bit sequence number.
const OrderingHeaderSize = 4

//////////////
//  CONFIG  //
//////////////

// Default configuration values for the ordering layer.
const (
	DefaultOrderingConfigRetransmitTimeout = 2 * time.Second
	DefaultOrderingConfigMaxPending        = 128
)

// OrderingConfig structs contains the configuration for the ordering layer.
type OrderingConfig struct {
	// RetransmitTimeout is the delay before a buffered out-of-order
	// message is replayed.
	RetransmitTimeout time.Duration

	// MaxPending bounds the number of buffered out-of-order messages.
	// Arrivals beyond the bound are dropped.
	MaxPending int
}

// NewOrderingConfig returns the default configuration for the ordering layer.
func NewOrderingConfig() *OrderingConfig {
	return &OrderingConfig{
		RetransmitTimeout: DefaultOrderingConfigRetransmitTimeout,
		MaxPending:        DefaultOrderingConfigMaxPending,
	}
}

// Validate checks the configuration.
func (c *OrderingConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "RetransmitTimeout", &c.RetransmitTimeout, DefaultOrderingConfigRetransmitTimeout)
	config.CheckNotZero(ac, "RetransmitTimeout", &c.RetransmitTimeout, DefaultOrderingConfigRetransmitTimeout)

	config.CheckNotNegative(ac, "MaxPending", &c.MaxPending, DefaultOrderingConfigMaxPending)
	config.CheckNotZero(ac, "MaxPending", &c.MaxPending, DefaultOrderingConfigMaxPending)
}

/////////////
//  LAYER  //
/////////////

// Ordering is a protocol layer that restores the logical message order
// on top of an unreliable datagram transport. It stamps outgoing
// messages with a monotonically increasing sequence number, buffers
// out-of-order arrivals and replays them when their retransmission
// timeout fires.
//
// A replay only delivers the single entry whose timeout fired, it does
// not cascade into later buffered entries.
type Ordering[Next Layer] struct {
	tel *telemetry.Telemetry

	cfg *OrderingConfig

	next Next

	nextSeqRead  uint32
	nextSeqWrite uint32

	// pending maps a sequence number to an owned copy of the
	// header-stripped bytes that arrived out of order. An entry is
	// only removed by a matching timeout replay or an eviction.
	pending map[uint32][]byte

	// Metrics
	orderedMsgs    atomic.Int64
	bufferedMsgs   atomic.Int64
	replayedMsgs   atomic.Int64
	duplicatedMsgs atomic.Int64
	droppedMsgs    atomic.Int64
}

// NewOrdering returns an ordering layer wrapping the given next layer.
func NewOrdering[Next Layer](next Next, cfg *OrderingConfig) *Ordering[Next] {
	tel := telemetry.NewTelemetry("protocol", "ordering")

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	o := &Ordering[Next]{
		tel: tel,

		cfg: cfg,

		next: next,

		pending: make(map[uint32][]byte),
	}

	o.initMetrics()

	return o
}

func (o *Ordering[Next]) initMetrics() {
	o.tel.NewCounter("ordered_messages", func() int64 { return o.orderedMsgs.Load() })
	o.tel.NewCounter("buffered_messages", func() int64 { return o.bufferedMsgs.Load() })
	o.tel.NewCounter("replayed_messages", func() int64 { return o.replayedMsgs.Load() })
	o.tel.NewCounter("duplicated_messages", func() int64 { return o.duplicatedMsgs.Load() })
	o.tel.NewCounter("dropped_messages", func() int64 { return o.droppedMsgs.Load() })
}

// Offset returns the sequencing header size plus the offset of the
// next layer.
func (o *Ordering[Next]) Offset() int {
	return OrderingHeaderSize + o.next.Offset()
}

// Read parses the sequence number and either forwards the remaining
// bytes inward (in order) or buffers them and schedules a
// retransmission timeout (out of order). Buffering is not a failure,
// it yields a nil message with a nil error.
func (o *Ordering[Next]) Read(s TimeoutScheduler, buf []byte) (*Message, error) {
	if len(buf) < OrderingHeaderSize {
		return nil, ErrNotEnoughData
	}

	seq := binary.BigEndian.Uint32(buf[:OrderingHeaderSize])

	if seq == o.nextSeqRead {
		// The counter only moves once the next layer accepted the
		// bytes, a malformed datagram must not consume the slot.
		msg, err := o.next.Read(s, buf[OrderingHeaderSize:])
		if err != nil {
			return nil, err
		}

		o.nextSeqRead++

		// A buffered copy of this slot is stale now, its timeout
		// must not redeliver it.
		delete(o.pending, seq)

		o.orderedMsgs.Add(1)
		return msg, nil
	}

	// An already delivered sequence number must never re-enter the
	// pending table.
	if seq < o.nextSeqRead {
		o.duplicatedMsgs.Add(1)
		o.tel.LogDebug("dropping duplicated message", "seq", seq, "next_seq_read", o.nextSeqRead)
		return nil, nil
	}

	o.buffer(s, seq, buf[OrderingHeaderSize:])

	return nil, nil
}

func (o *Ordering[Next]) buffer(s TimeoutScheduler, seq uint32, payload []byte) {
	if _, ok := o.pending[seq]; !ok && len(o.pending) >= o.cfg.MaxPending {
		o.droppedMsgs.Add(1)
		o.tel.LogWarn("pending table full, dropping message", "seq", seq)
		return
	}

	// The receive buffer is overwritten on the next read event,
	// the pending entry must own its bytes.
	owned := make([]byte, len(payload))
	copy(owned, payload)
	o.pending[seq] = owned

	o.bufferedMsgs.Add(1)

	s.RequestTimeout(o.cfg.RetransmitTimeout, Tag{Kind: TagKindOrdering, Seq: seq})
}

// Timeout replays the pending entry matching the tag, if any.
// Tags of other layers are delegated to the next layer.
func (o *Ordering[Next]) Timeout(s TimeoutScheduler, tag Tag) (*Message, error) {
	if tag.Kind != TagKindOrdering {
		return o.next.Timeout(s, tag)
	}

	buf, ok := o.pending[tag.Seq]
	if !ok {
		return nil, nil
	}

	msg, err := o.next.Read(s, buf)
	if err != nil {
		// The entry is garbage, replaying it again cannot help. The
		// slot stays open for a well-formed retransmission.
		delete(o.pending, tag.Seq)
		return nil, err
	}

	delete(o.pending, tag.Seq)

	// The replayed message fills the slot the reader was waiting for.
	if tag.Seq >= o.nextSeqRead {
		o.nextSeqRead = tag.Seq + 1
	}

	o.replayedMsgs.Add(1)

	return msg, nil
}

// WriteHeader stamps the outgoing message with the next write sequence
// number and delegates inward.
func (o *Ordering[Next]) WriteHeader(buf *transport.Buffer, offset int, hw HeaderWriter) (int, error) {
	buf.AppendUint32(o.nextSeqWrite)
	o.nextSeqWrite++

	return o.next.WriteHeader(buf, offset+OrderingHeaderSize, hw)
}

// PendingCount returns the number of buffered out-of-order messages.
func (o *Ordering[Next]) PendingCount() int {
	return len(o.pending)
}
