// Package timer provides the scheduling collaborator of an endpoint.
//
// A protocol layer can ask for a tag to be redelivered after a delay.
// The scheduler only guarantees that delivery happens no earlier than
// the delay and re-enters the endpoint's sequential event stream, it
// gives no ordering guarantee relative to other timers.
package timer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/leemit/actor-framework/internal/config"
	"github.com/leemit/actor-framework/internal/rb"
	"github.com/leemit/actor-framework/internal/telemetry"
	"github.com/leemit/actor-framework/protocol"
)

// Scheduler schedules the redelivery of a tag after a delay.
type Scheduler interface {
	Schedule(delay time.Duration, tag protocol.Tag)
}

//////////////
//  CONFIG  //
//////////////

// Default values for the timer service configuration.
const (
	DefaultServiceConfigQueueSize = 64
)

// ServiceConfig structs contains the configuration for the timer service.
type ServiceConfig struct {
	// QueueSize is the capacity of the delivery queue. Tags fired
	// while the queue is full are dropped.
	QueueSize int
}

// NewServiceConfig returns the default configuration for the timer service.
func NewServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		QueueSize: DefaultServiceConfigQueueSize,
	}
}

// Validate checks the configuration.
func (c *ServiceConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "QueueSize", &c.QueueSize, DefaultServiceConfigQueueSize)
	config.CheckNotZero(ac, "QueueSize", &c.QueueSize, DefaultServiceConfigQueueSize)
}

///////////////
//  SERVICE  //
///////////////

var _ Scheduler = (*Service)(nil)

// Service is a Scheduler backed by the runtime timers. Fired tags are
// put on a queue that the endpoint's event loop drains, so timeout
// events never run concurrently with read events. Timer callbacks are
// the producers of the queue, the event loop is its single consumer.
type Service struct {
	tel *telemetry.Telemetry

	tags *rb.RingBuffer[protocol.Tag]

	// Metrics
	scheduledTags atomic.Int64
	firedTags     atomic.Int64
	droppedTags   atomic.Int64
}

// NewService returns a new timer service.
func NewService(cfg *ServiceConfig) *Service {
	tel := telemetry.NewTelemetry("timer", "service")

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	s := &Service{
		tel: tel,

		tags: rb.NewRingBuffer[protocol.Tag](uint64(cfg.QueueSize)),
	}

	s.initMetrics()

	return s
}

func (s *Service) initMetrics() {
	s.tel.NewCounter("scheduled_tags", func() int64 { return s.scheduledTags.Load() })
	s.tel.NewCounter("fired_tags", func() int64 { return s.firedTags.Load() })
	s.tel.NewCounter("dropped_tags", func() int64 { return s.droppedTags.Load() })
}

// Schedule fires the tag onto the delivery queue once the delay has
// elapsed.
func (s *Service) Schedule(delay time.Duration, tag protocol.Tag) {
	s.scheduledTags.Add(1)

	time.AfterFunc(delay, func() {
		if !s.tags.TryWrite(tag) {
			s.droppedTags.Add(1)
			s.tel.LogWarn("delivery queue full, dropping tag",
				"kind", tag.Kind.String(), "seq", tag.Seq)
			return
		}

		s.firedTags.Add(1)
	})
}

// TryNext pops the next fired tag without blocking.
func (s *Service) TryNext() (protocol.Tag, bool) {
	return s.tags.TryRead()
}

// Next pops the next fired tag, blocking until one fires or the
// context is done.
func (s *Service) Next(ctx context.Context) (protocol.Tag, error) {
	return s.tags.Read(ctx)
}

// Close closes the delivery queue.
func (s *Service) Close() {
	s.tags.Close()
}

/////////////////
//  RECORDING  //
/////////////////

var _ Scheduler = (*Recording)(nil)

// ScheduledTag is one recorded Schedule call.
type ScheduledTag struct {
	Delay time.Duration
	Tag   protocol.Tag
}

// Recording is a Scheduler that records the requested tags instead of
// delivering them. It is intended for testing purposes: a test fires
// the recorded tags itself by calling the endpoint's timeout event.
type Recording struct {
	Scheduled []ScheduledTag
}

// NewRecording returns a new recording scheduler.
func NewRecording() *Recording {
	return &Recording{}
}

// Schedule records the call.
func (r *Recording) Schedule(delay time.Duration, tag protocol.Tag) {
	r.Scheduled = append(r.Scheduled, ScheduledTag{
		Delay: delay,
		Tag:   tag,
	})
}
