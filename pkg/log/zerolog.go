package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Zerolog implements Logger on top of a zerolog.Logger.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog wraps an existing zerolog.Logger.
func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

// NewConsole creates a Zerolog logger with human-readable console output
// on stderr.
func NewConsole() *Zerolog {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return &Zerolog{logger: zerolog.New(output).With().Timestamp().Logger()}
}

// Debug logs a debug-level message.
func (z *Zerolog) Debug(msg string, fields ...Field) {
	z.emit(z.logger.Debug(), msg, fields)
}

// Info logs an info-level message.
func (z *Zerolog) Info(msg string, fields ...Field) {
	z.emit(z.logger.Info(), msg, fields)
}

// Warn logs a warning-level message.
func (z *Zerolog) Warn(msg string, fields ...Field) {
	z.emit(z.logger.Warn(), msg, fields)
}

// Error logs an error-level message.
func (z *Zerolog) Error(msg string, fields ...Field) {
	z.emit(z.logger.Error(), msg, fields)
}

func (z *Zerolog) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case error:
			event = event.Err(v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}
