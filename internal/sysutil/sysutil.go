// Package sysutil holds small process-level helpers: log level and sink
// setup plus string utilities shared by config and main.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// LogOptions selects the log sinks.
type LogOptions struct {
	Pretty bool // human-readable console output instead of JSON

	// File, when set, receives JSON logs rotated by size and age.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger builds a logger writing to stdout and, optionally, a rotated
// file. The returned closer releases the file; it is a no-op otherwise.
func NewLogger(opts LogOptions) (zerolog.Logger, io.Closer) {
	var console io.Writer = os.Stdout
	if opts.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	out := console
	if strings.TrimSpace(opts.File) != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, rot)
		closer = rot
	}
	return zerolog.New(out).With().Timestamp().Logger(), closer
}

// InstallLogger sets the level and replaces the global logger.
func InstallLogger(level string, opts LogOptions) io.Closer {
	SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l, closer := NewLogger(opts)
	log.Logger = l
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FirstNonEmpty returns the first non-blank string, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
