// Package logging configures the zerolog logger shared by all binaries.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the service logger. In dev it writes human-readable console
// output; everywhere else it emits JSON lines.
func New(service, env string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var logger zerolog.Logger
	if env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.With().
		Timestamp().
		Str("service", service).
		Str("env", env).
		Logger()
}
