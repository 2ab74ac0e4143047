// Package telemetry bundles logging, metrics and tracing for a component.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/leemit/actor-framework"

// Telemetry groups the logger, meter and tracer of a single component.
// Components are identified by a kind (e.g. "transport", "protocol")
// and a name (e.g. "udp", "ordering").
type Telemetry struct {
	kind string
	name string

	logger *componentLogger
	meter  metric.Meter
	tracer trace.Tracer

	attrs []attribute.KeyValue
}

// NewTelemetry returns the telemetry for the component
// identified by the given kind and name.
func NewTelemetry(kind, name string) *Telemetry {
	return &Telemetry{
		kind: kind,
		name: name,

		logger: newComponentLogger(kind, name),
		meter:  otel.Meter(scopeName + "/" + kind),
		tracer: otel.Tracer(scopeName + "/" + kind),

		attrs: []attribute.KeyValue{
			attribute.String("component_kind", kind),
			attribute.String("component_name", name),
		},
	}
}

// LogDebug logs a message with the debug level.
func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.logger.debug(msg, args...)
}

// LogInfo logs a message with the info level.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.info(msg, args...)
}

// LogWarn logs a message with the warn level.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.warn(msg, args...)
}

// LogError logs an error with an additional message.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.error(msg, err, args...)
}

// NewCounter registers an observable counter whose value
// is produced by the given callback.
func (t *Telemetry) NewCounter(name string, callback func() int64) {
	_, err := t.meter.Int64ObservableCounter(
		t.kind+"."+t.name+"."+name,
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(callback(), metric.WithAttributes(t.attrs...))
			return nil
		}),
	)
	if err != nil {
		t.logger.error("failed to register counter", err, "counter", name)
	}
}

// NewTrace starts a new span with the given name.
// The returned span must be ended by the caller.
func (t *Telemetry) NewTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(t.attrs...))
}
