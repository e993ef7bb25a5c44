package signalr

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger decouples the core from any particular logging library.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type zerologLogger struct {
	logger zerolog.Logger
}

var _ Logger = (*zerologLogger)(nil)

func (z *zerologLogger) Infof(format string, v ...interface{})  { z.logger.Info().Msgf(format, v...) }
func (z *zerologLogger) Warnf(format string, v ...interface{})  { z.logger.Warn().Msgf(format, v...) }
func (z *zerologLogger) Errorf(format string, v ...interface{}) { z.logger.Error().Msgf(format, v...) }

// DefaultLogger returns a Logger backed by zerolog's console writer on
// stderr, tagged with a component field.
func DefaultLogger() Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "signalr").Logger()
	return &zerologLogger{logger: zl}
}

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// NoopLogger discards everything. Useful as a quiet default in tests.
func NoopLogger() Logger { return noopLogger{} }
