package guest

import (
	"context"
	"log/slog"
)

// Printer routes guest console output into the host log. It satisfies the
// goja_nodejs console printer interface.
type Printer struct {
	Logger *slog.Logger
	// Attrs are added to every record, e.g. the frame origin and token.
	Attrs []slog.Attr
}

func (p *Printer) Log(s string)   { p.print(slog.LevelInfo, s) }
func (p *Printer) Warn(s string)  { p.print(slog.LevelWarn, s) }
func (p *Printer) Error(s string) { p.print(slog.LevelError, s) }

func (p *Printer) print(level slog.Level, s string) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(context.Background(), level, s, append([]slog.Attr{slog.String("stream", "console")}, p.Attrs...)...)
}
