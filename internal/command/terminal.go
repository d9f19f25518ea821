package command

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/term"

	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/host"
	"github.com/joeycumines/liveeval/internal/render"
)

// fder is implemented by *os.File.
type fder interface {
	Fd() uintptr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(fder)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, or 0 if w is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(fder)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// stylesFor picks listing styles for the configured color mode: "always",
// "never", or "auto" (colour only on a terminal).
func stylesFor(cfg *config.Config, noColor bool, w io.Writer) render.Styles {
	if noColor {
		return render.PlainStyles()
	}
	switch config.DefaultSchema().Resolve(cfg, "", "color") {
	case "always":
		return render.DefaultStyles()
	case "never":
		return render.PlainStyles()
	}
	if isTerminal(w) {
		return render.DefaultStyles()
	}
	return render.PlainStyles()
}

// startHost builds and starts a host configured from cfg.
func startHost(ctx context.Context, cfg *config.Config, log *slog.Logger, loopLimit int) (*host.Host, error) {
	pc := cfg.Playground()
	if loopLimit > 0 {
		pc.LoopLimit = loopLimit
	}
	h, err := host.New(host.Options{
		StoreCapacity: pc.StoreCapacity,
		LoopLimit:     pc.LoopLimit,
		MaxDepth:      pc.MaxDepth,
		MaxItems:      pc.MaxItems,
		SwapTimeout:   pc.SwapTimeout,
		Debounce:      pc.Debounce,
		ReadyInterval: pc.ReadyInterval,
		Theme:         pc.Theme,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	if err := h.Start(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}
