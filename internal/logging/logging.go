// Package logging builds the per-component loggers used across reel.
//
// Every component logs through a standard *log.Logger with a bracketed
// prefix ("[daemon] ", "[realtime] ", ...). Output goes to stderr and, when
// a file is configured, to a size-rotated log file as well.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	File       string // rotated log file; empty logs to stderr only
	MaxSizeMB  int    // rotate after this many megabytes (default 10)
	MaxBackups int    // rotated files to keep (default 3)
	Verbose    bool   // enable Debug loggers
	Quiet      bool   // do not copy output to stderr
	Compress   bool   // gzip rotated files
}

// Logs hands out component loggers sharing one output.
type Logs struct {
	out     io.Writer
	file    *lumberjack.Logger
	verbose atomic.Bool
	closed  atomic.Bool
}

// Open creates the shared output described by opts.
func Open(opts Options) (*Logs, error) {
	l := &Logs{}
	l.verbose.Store(opts.Verbose)

	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	if opts.File != "" {
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
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   opts.Compress,
		}
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l, nil
}

// Discard returns Logs that drop everything.
func Discard() *Logs {
	return &Logs{out: io.Discard}
}

// Logger returns a logger for component.
func (l *Logs) Logger(component string) *log.Logger {
	return log.New(outWriter{l}, "["+component+"] ", log.LstdFlags)
}

// Debug returns a logger for component whose output is dropped unless
// verbose logging is on. Verbosity can change while the logger is in use.
func (l *Logs) Debug(component string) *log.Logger {
	return log.New(debugWriter{l}, "["+component+"] DEBUG ", log.LstdFlags)
}

// SetVerbose switches Debug loggers on or off.
func (l *Logs) SetVerbose(v bool) {
	l.verbose.Store(v)
}

// Verbose reports whether Debug loggers write.
func (l *Logs) Verbose() bool {
	return l.verbose.Load()
}

// Rotate starts a new log file. No-op without a log file.
func (l *Logs) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the log file. Loggers handed out earlier drop their output
// afterwards instead of reopening the file.
func (l *Logs) Close() error {
	if l.closed.Swap(true) || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Closed reports whether Close has been called.
func (l *Logs) Closed() bool {
	return l.closed.Load()
}

type outWriter struct{ l *Logs }

func (w outWriter) Write(p []byte) (int, error) {
	if w.l.closed.Load() {
		return len(p), nil
	}
	return w.l.out.Write(p)
}

type debugWriter struct{ l *Logs }

func (w debugWriter) Write(p []byte) (int, error) {
	if !w.l.verbose.Load() {
		return len(p), nil
	}
	return outWriter(w).Write(p)
}
