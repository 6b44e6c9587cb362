// Package logging provides the slog-backed logger used by the executables.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger sends info and warnings to a bracketed text stream and errors as
// JSON to a second stream.
type Logger struct {
	InfoLog  *slog.Logger
	ErrorLog *slog.Logger
}

func New(infoOut io.Writer, errorOut io.Writer) Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	return Logger{
		InfoLog:  slog.New(NewHandler(infoOut, opts)),
		ErrorLog: slog.New(slog.NewJSONHandler(errorOut, opts)),
	}
}

func NewStd() Logger {
	return New(os.Stdout, os.Stderr)
}

func (l Logger) Info(message string, module string) {
	l.InfoLog.Info(message, "module", module)
}

func (l Logger) Warn(message string, module string) {
	l.InfoLog.Warn(message, "module", module)
}

func (l Logger) Error(message string) {
	l.ErrorLog.Error(message)
}
