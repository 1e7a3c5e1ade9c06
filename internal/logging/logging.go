// Package logging builds the process logger: log/slog on top of a
// charmbracelet/log handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// Options holds configuration for the process logger.
type Options struct {
	Level           string // debug, info, warn, error
	Format          string // text, json or logfmt
	ReportTimestamp bool
	Prefix          string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Level:           "info",
		Format:          "text",
		ReportTimestamp: true,
	}
}

func formatter(name string) (log.Formatter, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	}
	return log.TextFormatter, fmt.Errorf("unknown log format %q", name)
}

// New returns a slog.Logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = l
	}

	f, err := formatter(opts.Format)
	if err != nil {
		return nil, err
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       f,
		ReportTimestamp: opts.ReportTimestamp,
		Prefix:          opts.Prefix,
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel}))
}
