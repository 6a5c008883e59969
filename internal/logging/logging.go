package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps LOG_LEVEL names (ERROR, WARN, INFO, DEBUG, TRACE) onto
// zerolog levels. Unknown or empty names fall back to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return zerolog.ErrorLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "TRACE":
		return zerolog.TraceLevel
	case "OFF", "DISABLED":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// New returns a logger writing to stderr. Pretty selects the console writer.
func New(level string, pretty bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return NewWithWriter(w, level)
}

// NewWithWriter returns a logger with timestamps writing JSON lines to w.
func NewWithWriter(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// NewDefault reads LOG_LEVEL and LOG_PRETTY from the environment.
func NewDefault() zerolog.Logger {
	pretty := false
	switch strings.ToLower(os.Getenv("LOG_PRETTY")) {
	case "1", "true", "yes":
		pretty = true
	}
	return New(os.Getenv("LOG_LEVEL"), pretty)
}
