// Package observability carries the ambient logging/metrics/health stack
// that sits around the market engine, in the same shape
// Khanh-21522203-PerpLedger's internal/observability package uses.
package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds a structured JSON logger for the named component.
// Level defaults to info, overridable via MANIFEST_LOG_LEVEL.
func NewLogger(component string) zerolog.Logger {
	level := parseLogLevel(os.Getenv("MANIFEST_LOG_LEVEL"))
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
