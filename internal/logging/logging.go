// Package logging provides the leveled run logger. One instance is built in
// main and injected into every component; there is no package-level logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Logger writes timestamped INFO/WARNING/ERROR lines. When constructed with
// New it tees to stderr and an append-only log file, which is the run's only
// audit trail.
type Logger struct {
	std  *log.Logger
	file *os.File
}

// New opens (or creates) the append-only log file at path and returns a
// logger writing to both the file and stderr.
func New(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{
		std:  log.New(io.MultiWriter(os.Stderr, f), "", log.LstdFlags),
		file: f,
	}, nil
}

// NewWithWriter returns a logger bound to an arbitrary sink, primarily for
// tests that want to capture output.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{std: log.New(w, "", log.LstdFlags)}
}

// Infof logs at INFO level.
func (l *Logger) Infof(format string, args ...any) {
	l.printf("INFO", format, args...)
}

// Warnf logs at WARNING level. Absence of matching data is reported here,
// never at ERROR.
func (l *Logger) Warnf(format string, args ...any) {
	l.printf("WARNING", format, args...)
}

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, args ...any) {
	l.printf("ERROR", format, args...)
}

func (l *Logger) printf(level, format string, args ...any) {
	if l == nil || l.std == nil {
		return
	}
	l.std.Printf(level+" "+format, args...)
}

// Close releases the underlying log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
