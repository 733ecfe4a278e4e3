// Package logging builds the per-component loggers a station writes to.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the log output.
type Options struct {
	// File enables a rotated log file in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Verbose also sends component logs to stderr. Without it stderr only
	// carries what the command prints itself.
	Verbose bool

	// Stderr replaces os.Stderr.
	Stderr io.Writer
}

// Logs hands out component loggers sharing one writer.
type Logs struct {
	w      io.Writer
	rotate *lumberjack.Logger
}

// New opens the log outputs described by opts.
func New(opts Options) (*Logs, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var writers []io.Writer
	if opts.Verbose {
		writers = append(writers, stderr)
	}

	l := &Logs{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, l.rotate)
	}

	switch len(writers) {
	case 0:
		l.w = io.Discard
	case 1:
		l.w = writers[0]
	default:
		l.w = io.MultiWriter(writers...)
	}
	return l, nil
}

// Discard returns logs that drop everything.
func Discard() *Logs {
	return &Logs{w: io.Discard}
}

// Logger returns a logger prefixed with [component].
func (l *Logs) Logger(component string) *log.Logger {
	return log.New(l.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared writer.
func (l *Logs) Writer() io.Writer {
	return l.w
}

// Rotate starts a new log file now. It is a no-op without file logging.
func (l *Logs) Rotate() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Rotate()
}

// Close closes the log file.
func (l *Logs) Close() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Close()
}
