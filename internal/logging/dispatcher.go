package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// badKey names a trailing value that has no key, as log/slog does.
const badKey = "!BADKEY"

// DispatcherLogger writes dispatcher diagnostics through zerolog. Every line
// carries component=dispatcher.
type DispatcherLogger struct {
	logger zerolog.Logger
}

// NewDispatcherLogger wraps logger for use as a dispatcher.Logger.
func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger.With().Str("component", "dispatcher").Logger()}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	emit(l.logger.Info(), msg, keysAndValues)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	emit(l.logger.Error(), msg, keysAndValues)
}

// emit adds slog-style key/value pairs to ev. Errors keep their message,
// non-string keys are stringified.
func emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			ev = ev.Interface(badKey, kv[i])
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case string:
			ev = ev.Str(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
