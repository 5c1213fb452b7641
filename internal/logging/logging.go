// Package logging builds the zerolog loggers shared by every binary.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger at the given level. An unparsable level falls back
// to info; debug forces the debug level regardless of level.
func New(w io.Writer, level string, debug bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Console returns a human readable logger for interactive CLI use.
func Console(level string, debug bool) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return New(out, level, debug)
}

// Early is used before configuration is loaded.
func Early() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
