// Package log provides the tracker's shared zerolog configuration.
//
// Every component gets its own sub-logger via NewLogger, tagged with a
// "component" field, so log lines can be filtered per subsystem without
// threading a logger through every constructor argument list.
package log

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// output is the writer behind every logger, including sub-loggers created
// before SetJSON runs, so switching format reaches all of them.
type output struct{ json atomic.Bool }

func (o *output) Write(p []byte) (int, error) {
	if o.json.Load() {
		return os.Stderr.Write(p)
	}
	return console.Write(p)
}

var (
	console = zerolog.ConsoleWriter{Out: os.Stderr}
	out     = &output{}
	base    = zerolog.New(out).With().Timestamp().Logger()
)

var debug atomic.Bool

// SetDebug toggles debug-level logging globally.
func SetDebug(enabled bool) {
	debug.Store(enabled)
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetJSON switches the root logger to line-delimited JSON output, useful
// when logs are shipped to a collector instead of a terminal.
func SetJSON() {
	out.json.Store(true)
}

// NewLogger returns a sub-logger tagged with the given component name.
func NewLogger(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
