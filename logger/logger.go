// Package logger builds the engine's root zerolog logger. The engine is
// embedded in a host application, so the level is scoped to the returned
// logger and the host's global zerolog configuration is never touched.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a configured logger writing to out.
//   - level: log level string (trace, debug, info, warn, error, fatal,
//     panic); unknown values fall back to info
//   - format: "json" for machine-readable output, "pretty" for
//     human-readable console output
//
// A nil out defaults to stdout.
func Setup(level, format string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	writer := out
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Logger()
}
