package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level       string
	Environment string
	ServiceName string
	Version     string
}

// Logger wraps zerolog with service-level fields pre-attached.
type Logger struct {
	zerolog.Logger
}

// New builds the service logger. Development environments get the console
// writer; everything else emits JSON to stdout.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var out zerolog.Logger
	if cfg.Environment == "development" || cfg.Environment == "local" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		out = zerolog.New(os.Stdout)
	}

	l := out.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: l}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
