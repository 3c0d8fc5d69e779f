// Package monitoring provides the process logger and prometheus metrics.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogConfig selects the log output format and level.
type LogConfig struct {
	Level string    // debug, info, warn, error
	JSON  bool      // emit JSON lines instead of console output
	Out   io.Writer // defaults to os.Stderr
}

var (
	baseMu sync.RWMutex
	base   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
)

// Logf is the package-level diagnostic logger used for printf-style
// messages. It writes through the configured zerolog logger at info level
// and may be replaced by SetLogger. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	l := Base()
	l.Info().Msg(fmt.Sprintf(format, v...))
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Configure rebuilds the base logger. Loggers obtained from Component before
// the call keep their previous output.
func Configure(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	baseMu.Lock()
	base = zerolog.New(out).Level(level).With().Timestamp().Logger()
	baseMu.Unlock()
	return nil
}

// Base returns the process logger.
func Base() zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Base().With().Str("component", name).Logger()
}
