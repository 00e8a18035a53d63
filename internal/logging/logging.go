// Package logging builds the per-component loggers.
//
// Every component logs through a plain *log.Logger with a bracketed prefix
// ("[observer] ", "[jobs] ", ...). This package decides where those loggers
// write: stderr by default, or a size-rotated file when one is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log destination.
type Options struct {
	// File, if set, receives all output with size-based rotation
	File string

	// MaxSizeMB is the size at which File is rotated (default: 10)
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int

	// Debug enables debug lines in components that support them
	Debug bool

	// Stderr is used when File is empty (default: os.Stderr)
	Stderr io.Writer
}

// Factory hands out loggers that share one destination.
type Factory struct {
	out    io.Writer
	closer io.Closer
	debug  bool
	flags  int
}

// Setup creates a factory for opts. The caller should Close it on exit so a
// log file is flushed and released.
func Setup(opts Options) (*Factory, error) {
	if opts.File == "" {
		out := opts.Stderr
		if out == nil {
			out = os.Stderr
		}
		return &Factory{out: out, debug: opts.Debug, flags: log.LstdFlags}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	w := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   false,
	}
	return &Factory{out: w, closer: w, debug: opts.Debug, flags: log.LstdFlags | log.Lmicroseconds}, nil
}

// Discard returns a factory whose loggers write nowhere.
func Discard() *Factory {
	return &Factory{out: io.Discard}
}

// New returns a logger for component, prefixed "[component] ".
func (f *Factory) New(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", f.flags)
}

// Debug reports whether debug logging was requested.
func (f *Factory) Debug() bool {
	return f.debug
}

// Writer returns the shared destination.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close releases the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	if err := f.closer.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
