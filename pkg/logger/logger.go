// Package logger builds the structured zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Options configures the root logger.
type Options struct {
	Service string
	Level   string // debug, info, warn, error
	Pretty  bool   // human readable console output
	Writer  io.Writer
}

// New creates the root logger with service and node fields attached.
func New(opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.Service).
		Str("node", NodeID(opts.Service)).
		Logger()
}

// Nop returns a disabled logger for tests and optional collaborators.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// NodeID returns a stable, app-scoped machine id, falling back to the hostname.
func NodeID(app string) string {
	if id, err := machineid.ProtectedID(app); err == nil && id != "" {
		if len(id) > 12 {
			id = id[:12]
		}
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
