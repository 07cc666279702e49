package logger

import (
	"io"
	"log"
	"os"
)

// Logger is a small leveled printf-style logger. The TUI owns stdout, so
// callers normally point it at the file returned by tea.LogToFile.
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
}

// New returns a Logger writing to stderr.
func New() *Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter returns a Logger writing every level to w.
func NewWithWriter(w io.Writer) *Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	return &Logger{
		info:  log.New(w, "INFO  ", flags),
		warn:  log.New(w, "WARN  ", flags),
		error: log.New(w, "ERROR ", flags),
	}
}

// Discard returns a Logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.info.Printf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.warn.Printf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.error.Printf(format, args...)
}
