// Package logger builds the zerolog logger used by the service.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Build collects the logger settings.
type Build struct {
	writer io.Writer
	path   string
	level  zerolog.Level
	pretty bool
}

// Logger is a built logger and the file it writes to, if any.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New starts a builder writing JSON lines to stderr at info level.
func New() *Build {
	return &Build{writer: os.Stderr, level: zerolog.InfoLevel}
}

// FromPath appends to the file at path instead.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromWriter writes to w instead.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// Level sets the minimum level by name: debug, info, warn or error.
func (b *Build) Level(name string) *Build {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil && name != "" {
		b.level = lvl
	}
	return b
}

// Format selects "json" (default) or "console" output.
func (b *Build) Format(format string) *Build {
	b.pretty = format == "console"
	return b
}

// Make builds the logger.
func (b *Build) Make() (*Logger, error) {
	l := &Logger{}
	w := b.writer
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		w = zerolog.SyncWriter(f)
	}
	if b.pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	l.Logger = zerolog.New(w).Level(b.level).With().Timestamp().Logger()
	return l, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
