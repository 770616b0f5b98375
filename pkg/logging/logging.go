// Package logging builds the zerolog loggers used by the service and the CLI.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options describes logger configuration supplied at creation time.
type Options struct {
	Level string
	Human bool
	// Writer defaults to stderr so CLI output on stdout stays clean.
	Writer io.Writer
}

// New creates a configured logger.
func New(opts Options) (zerolog.Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), err
		}
		level = parsed
	}

	output := writer
	if opts.Human {
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = time.RFC3339
		output = console
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

// ForHost derives a logger tagged with the host under test.
func ForHost(base zerolog.Logger, host string) zerolog.Logger {
	return base.With().Str("host", host).Logger()
}

// ForWorker derives a logger tagged with a worker index.
func ForWorker(base zerolog.Logger, id int) zerolog.Logger {
	return base.With().Int("worker", id).Logger()
}
