package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// newLogger returns a console logger on stderr. Debug events are only
// emitted when verbose is set.
func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
