// Package logging initializes zerolog for the dispatch daemon.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logger initialization.
type Config struct {
	Format    string // "json" or "console"
	Level     string // "debug", "info", "warn", "error"
	Component string // optional component name
}

var (
	mu         sync.Mutex
	baseLogger zerolog.Logger
)

func init() {
	baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Logger = baseLogger
}

// Init configures zerolog globals and establishes the package baseline logger.
func Init(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var writer io.Writer = os.Stderr
	if strings.EqualFold(cfg.Format, "console") {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	builder := zerolog.New(writer).With().Timestamp()
	if component := strings.TrimSpace(cfg.Component); component != "" {
		builder = builder.Str("component", component)
	}

	baseLogger = builder.Logger()
	log.Logger = baseLogger
	return baseLogger
}

// With returns a child logger carrying the given component field.
func With(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return baseLogger.With().Str("component", component).Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
