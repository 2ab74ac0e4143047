package sink

import (
	"context"
	"sync/atomic"
	"time"

	newb "github.com/leemit/actor-framework"
	"github.com/leemit/actor-framework/internal/config"
	"github.com/leemit/actor-framework/internal/telemetry"
	"github.com/leemit/actor-framework/protocol"
	qdb "github.com/questdb/go-questdb-client/v3"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the QuestDB sink configuration.
const (
	DefaultQuestDBConfigAddress = "localhost:9000"
	DefaultQuestDBConfigTable   = "delivered_messages"
)

// QuestDBConfig structs contains the configuration for the QuestDB sink.
type QuestDBConfig struct {
	// Address of the QuestDB server.
	//
	// Default: "localhost:9000"
	Address string

	// Table the delivery rows are inserted into.
	Table string
}

// NewQuestDBConfig returns the default configuration for the QuestDB sink.
func NewQuestDBConfig() *QuestDBConfig {
	return &QuestDBConfig{
		Address: DefaultQuestDBConfigAddress,
		Table:   DefaultQuestDBConfigTable,
	}
}

// Validate checks the configuration.
func (c *QuestDBConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "Address", &c.Address, DefaultQuestDBConfigAddress)
	config.CheckNotEmpty(ac, "Table", &c.Table, DefaultQuestDBConfigTable)
}

////////////
//  SINK  //
////////////

var _ newb.Handler = (*QuestDB)(nil)

// QuestDB is a handler that records one audit row per delivered
// message over the ILP protocol. Rows are buffered by the sender and
// flushed in batches.
type QuestDB struct {
	tel *telemetry.Telemetry

	cfg *QuestDBConfig

	senderPool *qdb.LineSenderPool
	sender     qdb.LineSender

	// Metrics
	insertedRows atomic.Int64
	failedRows   atomic.Int64
}

// NewQuestDB returns a new QuestDB sink.
func NewQuestDB(ctx context.Context, cfg *QuestDBConfig) (*QuestDB, error) {
	tel := telemetry.NewTelemetry("sink", "questdb")

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	senderPool, err := qdb.PoolFromOptions(
		qdb.WithAddress(cfg.Address),
		qdb.WithHttp(),
		qdb.WithAutoFlushRows(75_000),
		qdb.WithRetryTimeout(time.Second),
	)
	if err != nil {
		return nil, err
	}

	sender, err := senderPool.Sender(ctx)
	if err != nil {
		senderPool.Close(ctx)
		return nil, err
	}

	q := &QuestDB{
		tel: tel,

		cfg: cfg,

		senderPool: senderPool,
		sender:     sender,
	}

	q.initMetrics()

	return q, nil
}

func (q *QuestDB) initMetrics() {
	q.tel.NewCounter("inserted_rows", func() int64 { return q.insertedRows.Load() })
	q.tel.NewCounter("failed_rows", func() int64 { return q.failedRows.Load() })
}

// Handle records one row for the message.
func (q *QuestDB) Handle(msg *protocol.Message) {
	err := q.sender.Table(q.cfg.Table).
		Int64Column("from_id", int64(msg.Header.From)).
		Int64Column("to_id", int64(msg.Header.To)).
		Int64Column("payload_size", int64(len(msg.Payload))).
		At(context.Background(), time.Now())

	if err != nil {
		q.failedRows.Add(1)
		q.tel.LogError("failed to insert row", err)
		return
	}

	q.insertedRows.Add(1)
}

// Close releases the sender, flushing buffered rows, and closes the
// pool.
func (q *QuestDB) Close(ctx context.Context) error {
	if err := q.sender.Close(ctx); err != nil {
		q.tel.LogError("failed to close sender", err)
	}

	return q.senderPool.Close(ctx)
}
