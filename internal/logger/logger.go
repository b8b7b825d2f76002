package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the service logger
type Config struct {
	Level       string
	Environment string
	ServiceName string
	Version     string
}

// Logger wraps zerolog.Logger so services can take a *Logger and still call
// the zerolog event API directly.
type Logger struct {
	zerolog.Logger
}

// New creates a logger. Development environments get a console writer,
// everything else writes JSON to stdout.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Environment == "development" || cfg.Environment == "local" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Logger()

	return &Logger{Logger: zl}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Named returns a child logger carrying the component name
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("component", component).Logger()}
}
