package newb

import (
	"context"
	"errors"
	"time"

	"github.com/leemit/actor-framework/internal/config"
	"github.com/leemit/actor-framework/internal/telemetry"
	"github.com/leemit/actor-framework/protocol"
	"github.com/leemit/actor-framework/transport"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the runner configuration.
const (
	DefaultRunnerConfigPollInterval = 50 * time.Millisecond
)

// RunnerConfig structs contains the configuration for the runner.
type RunnerConfig struct {
	// PollInterval bounds how long a single transport read may block
	// before fired timeout tags are checked again.
	PollInterval time.Duration
}

// NewRunnerConfig returns the default configuration for the runner.
func NewRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		PollInterval: DefaultRunnerConfigPollInterval,
	}
}

// Validate checks the configuration.
func (c *RunnerConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "PollInterval", &c.PollInterval, DefaultRunnerConfigPollInterval)
	config.CheckNotZero(ac, "PollInterval", &c.PollInterval, DefaultRunnerConfigPollInterval)
}

//////////////
//  RUNNER  //
//////////////

// TagSource yields the fired timeout tags of a timer service.
// TryNext must not block, the event loop polls it between reads.
type TagSource interface {
	TryNext() (protocol.Tag, bool)
}

// Runner hosts one endpoint and processes its events on a single
// goroutine: fired timeout tags and transport reads are interleaved
// but never overlap, which keeps the endpoint's event stream strictly
// sequential.
type Runner struct {
	tel *telemetry.Telemetry

	cfg *RunnerConfig

	endpoint *Endpoint
	tags     TagSource
}

// NewRunner returns a new runner driving the given endpoint.
// The tag source carries the fired timeout tags of the endpoint's
// timer service, it may be nil when no timer service is used.
func NewRunner(endpoint *Endpoint, tags TagSource, cfg *RunnerConfig) *Runner {
	tel := telemetry.NewTelemetry("endpoint", "runner")

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	return &Runner{
		tel: tel,

		cfg: cfg,

		endpoint: endpoint,
		tags:     tags,
	}
}

// Run processes events until the context is done or the transport is
// closed.
func (r *Runner) Run(ctx context.Context) {
	r.tel.LogInfo("running")

	r.endpoint.transport.SetReadTimeout(r.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.drainTags()

		readStart := time.Now()

		_, err := r.endpoint.OnReadEvent()
		if err == nil {
			continue
		}

		if errors.Is(err, transport.ErrReadTimeout) {
			// Non-blocking transports report the timeout right away,
			// sleep out the rest of the interval instead of spinning.
			if rest := r.cfg.PollInterval - time.Since(readStart); rest > 0 {
				time.Sleep(rest)
			}
			continue
		}

		if errors.Is(err, transport.ErrClosed) {
			r.tel.LogInfo("transport is closed, stopping")
			return
		}

		// A failed event is fatal to the event, not to the endpoint.
		r.tel.LogError("read event failed", err)
	}
}

func (r *Runner) drainTags() {
	if r.tags == nil {
		return
	}

	for {
		tag, ok := r.tags.TryNext()
		if !ok {
			return
		}

		if _, err := r.endpoint.OnTimeoutEvent(tag); err != nil {
			r.tel.LogError("timeout event failed", err)
		}
	}
}

// Close closes the runner's endpoint.
func (r *Runner) Close() {
	r.tel.LogInfo("closing")

	if err := r.endpoint.Close(); err != nil {
		r.tel.LogError("failed to close endpoint", err)
	}
}
