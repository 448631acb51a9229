package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

func init() {
	// Build events carry their timestamp as "ts" and their text as "msg"
	// (see events.go); the console logger shares the zerolog globals, so the
	// field names are set once here.
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
}

// Level controls logger verbosity.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Format selects how console log lines are rendered.
type Format int

const (
	FormatPretty Format = iota
	FormatJSON
)

type Config struct {
	Level  Level
	Format Format
	Output io.Writer // defaults to os.Stderr
}

// Logger is the console logger handed to every component. It is a thin
// facade over zerolog so that callers never deal with event builders.
type Logger struct {
	zl    zerolog.Logger
	level Level
}

func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	w := out
	if c.Format == FormatPretty {
		noColor := true
		if f, ok := out.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: noColor}
	}
	zl := zerolog.New(w).With().Timestamp().Logger().Level(zerologLevel(c.Level))
	return &Logger{zl: zl, level: c.Level}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{zl: zerolog.Nop(), level: LevelError}
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// WithField returns a copy of the logger with a constant field attached,
// e.g. the package name a worker is building.
func (l *Logger) WithField(key, value string) *Logger {
	cp := *l
	cp.zl = l.zl.With().Str(key, value).Logger()
	return &cp
}

func (l *Logger) Level() Level {
	return l.level
}

// Unwrap exposes the underlying zerolog logger for libraries that accept
// one directly, such as the SQL statement logger.
func (l *Logger) Unwrap() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.zl.Fatal().Msgf(format, args...)
}

// Okf logs a success line at info level, tagged so the pretty writer can be
// grepped for completed packages.
func (l *Logger) Okf(format string, args ...any) {
	l.zl.Info().Str("status", "ok").Msgf(format, args...)
}
