// Package logging builds the process logger: an in-memory Buffer of recent
// records, plus JSON lines to a size-rotated file when one is configured.
package logging

import (
	"io"
	"log/slog"

	"github.com/joeycumines/liveeval/internal/config"
)

// Logger is an slog.Logger bound to its buffer and optional log file.
type Logger struct {
	*slog.Logger
	Buffer *Buffer
	file   io.WriteCloser
}

// New builds a Logger from cfg. With no cfg.File, records go only to the
// buffer.
func New(cfg config.LogConfig) (*Logger, error) {
	buf := NewBuffer(cfg.BufferSize, cfg.Level)
	l := &Logger{Buffer: buf}
	if cfg.File == "" {
		l.Logger = slog.New(buf.Handler())
		return l, nil
	}
	f, err := OpenRotatingFile(cfg.File, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, err
	}
	l.file = f
	l.Logger = slog.New(slog.NewMultiHandler(
		buf.Handler(),
		slog.NewJSONHandler(f, &slog.HandlerOptions{Level: cfg.Level}),
	))
	return l, nil
}

// Discard returns a Logger that buffers nothing and writes nowhere.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler), Buffer: NewBuffer(1, slog.LevelError+1)}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
