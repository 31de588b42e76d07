// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup builds a logger writing to stderr and installs it as the global logger.
func Setup(level string, pretty bool) zerolog.Logger {
	logger := New(os.Stderr, level, pretty)
	zerolog.SetGlobalLevel(logger.GetLevel())
	log.Logger = logger
	return logger
}

// New builds a logger at level. Unknown or empty levels mean info. Pretty output
// uses the console writer.
func New(w io.Writer, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
