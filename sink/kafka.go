package sink

import (
	"context"
	"encoding/binary"
	"strconv"
	"sync/atomic"
	"time"

	newb "github.com/leemit/actor-framework"
	"github.com/leemit/actor-framework/internal/config"
	"github.com/leemit/actor-framework/internal/telemetry"
	"github.com/leemit/actor-framework/protocol"
	"github.com/segmentio/kafka-go"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the Kafka sink configuration.
const (
	DefaultKafkaConfigTopic = "delivered-messages"
)

// KafkaConfig structs contains the configuration for the Kafka sink.
type KafkaConfig struct {
	// A list of Kafka brokers to connect to.
	//
	// Default: localhost:9092
	Brokers []string

	// Topic the delivered messages are published to.
	Topic string

	// The balancer used to distribute messages across partitions.
	//
	// Default: RoundRobin.
	Balancer kafka.Balancer

	// Limit on how many attempts will be made to deliver a message.
	//
	// Default: 10.
	MaxAttempts int

	// Limit on how many messages will be buffered before being sent to a
	// partition.
	//
	// The default is to use a target batch size of 100 messages.
	BatchSize int

	// Time limit on how often incomplete message batches will be flushed to
	// kafka.
	//
	// The default is to flush at least every second.
	BatchTimeout time.Duration

	// Timeout for write operation performed by the Writer.
	//
	// Defaults to 10 seconds.
	WriteTimeout time.Duration

	// Number of acknowledges from partition replicas required before receiving
	// a response to a produce request.
	//
	// Defaults to RequireNone.
	RequiredAcks kafka.RequiredAcks

	// Async keeps Handle from blocking on the broker. It must stay
	// enabled when the sink is driven from an endpoint's event loop.
	//
	// Defaults to true.
	Async bool

	// Compression set the compression codec to be used to compress messages.
	Compression kafka.Compression

	// AllowAutoTopicCreation notifies writer to create topic if missing.
	AllowAutoTopicCreation bool
}

// NewKafkaConfig returns the default configuration for the Kafka sink.
func NewKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:                []string{"localhost:9092"},
		Topic:                  DefaultKafkaConfigTopic,
		Balancer:               &kafka.RoundRobin{},
		MaxAttempts:            10,
		BatchSize:              100,
		BatchTimeout:           time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireNone,
		Async:                  true,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "Topic", &c.Topic, DefaultKafkaConfigTopic)
	config.CheckNotZero(ac, "MaxAttempts", &c.MaxAttempts, 10)
	config.CheckNotNegative(ac, "BatchTimeout", &c.BatchTimeout, time.Second)
	config.CheckNotNegative(ac, "WriteTimeout", &c.WriteTimeout, 10*time.Second)
}

////////////
//  SINK  //
////////////

var _ newb.Handler = (*Kafka)(nil)

// Kafka is a handler that publishes every delivered message to a Kafka
// topic. Messages are keyed by the sender identifier, the receiver
// identifier travels as a message header.
type Kafka struct {
	tel *telemetry.Telemetry

	cfg *KafkaConfig

	writer *kafka.Writer

	// Metrics
	publishedMsgs atomic.Int64
	failedMsgs    atomic.Int64
}

// NewKafka returns a new Kafka sink.
func NewKafka(cfg *KafkaConfig) *Kafka {
	tel := telemetry.NewTelemetry("sink", "kafka")

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	k := &Kafka{
		tel: tel,

		cfg: cfg,

		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               cfg.Balancer,
			MaxAttempts:            cfg.MaxAttempts,
			BatchSize:              cfg.BatchSize,
			BatchTimeout:           cfg.BatchTimeout,
			WriteTimeout:           cfg.WriteTimeout,
			RequiredAcks:           cfg.RequiredAcks,
			Async:                  cfg.Async,
			Compression:            cfg.Compression,
			AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		},
	}

	k.initMetrics()

	return k
}

func (k *Kafka) initMetrics() {
	k.tel.NewCounter("published_messages", func() int64 { return k.publishedMsgs.Load() })
	k.tel.NewCounter("failed_messages", func() int64 { return k.failedMsgs.Load() })
}

// Handle publishes the message. The payload is copied before it is
// handed to the async writer, the view into the receive buffer does
// not outlive the event.
func (k *Kafka) Handle(msg *protocol.Message) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, msg.Header.From)

	value := make([]byte, len(msg.Payload))
	copy(value, msg.Payload)

	kafkaMsg := kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "to", Value: []byte(strconv.FormatUint(msg.Header.To, 10))},
		},
	}

	if err := k.writer.WriteMessages(context.Background(), kafkaMsg); err != nil {
		k.failedMsgs.Add(1)
		k.tel.LogError("failed to publish message", err)
		return
	}

	k.publishedMsgs.Add(1)
}

// Close closes the underlying writer, flushing buffered messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
