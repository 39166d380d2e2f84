// Package logging builds the process logger and per-component child loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logger fields
const (
	COMPONENT = "component"
	REQUEST   = "request_id"
	USER      = "user_id"
	JOURNEY   = "journey_id"
	GROUP     = "group_id"
	COMPANION = "companion_request_id"
	PATH      = "path"
	OP        = "op"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New configures the global logger and returns it. Unknown levels fall back to info.
func New(level string, pretty bool) zerolog.Logger {
	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// For returns a child of the global logger tagged with component=name.
func For(name string) zerolog.Logger {
	return log.With().Str(COMPONENT, name).Logger()
}
