// Package logging builds the zerolog loggers shared by the API and the
// worker.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger tagged with service. format is "json" or "console".
func New(service, level, format string, out io.Writer) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", format)
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger(), nil
}

// AsynqLogger adapts a zerolog.Logger to asynq's Logger interface.
type AsynqLogger struct {
	Logger zerolog.Logger
}

func (l AsynqLogger) Debug(args ...any) {
	l.Logger.Debug().Msg(fmt.Sprint(args...))
}

func (l AsynqLogger) Info(args ...any) {
	l.Logger.Info().Msg(fmt.Sprint(args...))
}

func (l AsynqLogger) Warn(args ...any) {
	l.Logger.Warn().Msg(fmt.Sprint(args...))
}

func (l AsynqLogger) Error(args ...any) {
	l.Logger.Error().Msg(fmt.Sprint(args...))
}

func (l AsynqLogger) Fatal(args ...any) {
	l.Logger.Fatal().Msg(fmt.Sprint(args...))
}
