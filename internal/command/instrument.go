package command

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/render"
)

// InstrumentCommand prints the instrumented form of a JavaScript file, or
// the capture sites found in it.
type InstrumentCommand struct {
	*BaseCommand
	config    *config.Config
	contexts  bool
	jsonOut   bool
	loopLimit int
}

// NewInstrumentCommand creates a new instrument command.
func NewInstrumentCommand(cfg *config.Config) *InstrumentCommand {
	return &InstrumentCommand{
		BaseCommand: NewBaseCommand("instrument", "Show the instrumented source of a file", "instrument [options] <file.js | ->"),
		config:      cfg,
	}
}

// SetupFlags configures the flags for the instrument command.
func (c *InstrumentCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.contexts, "contexts", false, "List capture sites instead of printing code")
	fs.BoolVar(&c.jsonOut, "json", false, "With --contexts, print sites as JSON lines")
	fs.IntVar(&c.loopLimit, "loop-limit", 0, "Iteration ceiling for unbounded loops (default from config)")
}

// Execute runs the transform. "-" reads standard input.
func (c *InstrumentCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		return c.usageError(stderr, "instrument takes exactly one file")
	}
	name, src, err := readSource(args[0])
	if err != nil {
		return err
	}
	limit := c.loopLimit
	if limit <= 0 {
		limit = c.config.Playground().LoopLimit
	}

	res, err := instrument.Instrument(src, name, instrument.NewCounter(0), &instrument.Options{LoopLimit: limit})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return err
	}
	if !c.contexts {
		_, _ = io.WriteString(stdout, res.Code)
		return nil
	}
	if c.jsonOut {
		enc := json.NewEncoder(stdout)
		for _, ctx := range res.Contexts {
			if err := enc.Encode(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tPOSITION\tNAME\tSOURCE")
	for _, ctx := range res.Contexts {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d:%d\t%s\t%s\n", ctx.ID, render.KindLabel(ctx.Kind),
			ctx.LineStart, ctx.ColStart, ctx.Name, render.Truncate(oneLine(ctx.SourceText), 40))
	}
	return w.Flush()
}

func readSource(path string) (name, src string, err error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", err
		}
		return "stdin.js", string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return filepath.Base(path), string(data), nil
}

func oneLine(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || r == ' ' {
			if !space {
				out = append(out, ' ')
			}
			space = true
			continue
		}
		space = false
		out = append(out, r)
	}
	return string(out)
}
