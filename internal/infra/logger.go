package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger shared by every package.
type Logger = zerolog.Logger

// NewLogger logs JSON to stdout, or human-readable lines in development.
// LOG_LEVEL overrides the environment default.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(os.Stdout, appEnv, os.Getenv("LOG_LEVEL"))
}

func newLogger(out io.Writer, appEnv, levelName string) zerolog.Logger {
	dev := appEnv == "development"
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}
	if name := strings.ToLower(strings.TrimSpace(levelName)); name != "" {
		if parsed, err := zerolog.ParseLevel(name); err == nil {
			level = parsed
		}
	}
	if dev {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("env", appEnv).Logger()
}

// LoggerOrNop returns l, or a logger that discards everything when l is nil.
func LoggerOrNop(l *Logger) *Logger {
	if l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}
