package telemetry

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var (
	loggerMux  sync.RWMutex
	rootLogger = newConsoleLogger()
)

func newConsoleLogger() *slog.Logger {
	fd := os.Stdout.Fd()
	isTerm := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)

	handler := tint.NewHandler(colorable.NewColorableStdout(), &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerm,
	})

	return slog.New(handler)
}

// UseOTelLogger switches the root logger to the OpenTelemetry slog bridge.
// Intended to be called once, after the log provider has been configured.
func UseOTelLogger() {
	loggerMux.Lock()
	defer loggerMux.Unlock()

	rootLogger = slog.New(otelslog.NewHandler(scopeName))
}

type componentLogger struct {
	args []any
}

func newComponentLogger(kind, name string) *componentLogger {
	return &componentLogger{
		args: []any{"component", kind + "/" + name},
	}
}

func (cl *componentLogger) log(level slog.Level, msg string, args ...any) {
	loggerMux.RLock()
	logger := rootLogger
	loggerMux.RUnlock()

	logger.With(cl.args...).Log(context.Background(), level, msg, args...)
}

func (cl *componentLogger) debug(msg string, args ...any) {
	cl.log(slog.LevelDebug, msg, args...)
}

func (cl *componentLogger) info(msg string, args ...any) {
	cl.log(slog.LevelInfo, msg, args...)
}

func (cl *componentLogger) warn(msg string, args ...any) {
	cl.log(slog.LevelWarn, msg, args...)
}

func (cl *componentLogger) error(msg string, err error, args ...any) {
	cl.log(slog.LevelError, msg, append([]any{"error", err}, args...)...)
}
