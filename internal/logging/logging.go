package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	LevelError = iota
	LevelInfo
	LevelDebug
)

type Config struct {
	Level  int
	Output io.Writer
}

// Logger wraps zerolog with the printf-style interface used throughout the
// codebase. The zero value is unusable; construct with NewLogger.
type Logger struct {
	logger zerolog.Logger
	level  int
}

func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}

	zl := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger().
		Level(zerologLevel(c.Level))

	return &Logger{logger: zl, level: c.Level}
}

func zerologLevel(level int) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.ErrorLevel
	}
}

// WithName returns a logger that tags every message with a component name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", name).Logger(), level: l.level}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l *Logger) Level() int {
	return l.level
}
