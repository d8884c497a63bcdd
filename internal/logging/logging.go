// Package logging builds the process-wide zerolog logger. Construct it
// once in main and pass it down; nothing in this repo logs through a
// global.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing JSON to stderr. In dev the output is the
// human console format instead.
func New(service, env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var logger zerolog.Logger
	if strings.EqualFold(env, "dev") {
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
