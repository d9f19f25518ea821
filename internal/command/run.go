package command

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/protocol"
	"github.com/joeycumines/liveeval/internal/render"
	"github.com/joeycumines/liveeval/internal/store"
)

// ErrRunFailed is returned when a run built with errors or raised at run
// time. Its details have already been printed.
var ErrRunFailed = errors.New("run failed")

// RunCommand executes a project once and prints its source annotated with
// the captured values.
type RunCommand struct {
	*BaseCommand
	config *config.Config
	log    *slog.Logger

	filter    string
	entry     string
	jsonOut   bool
	all       bool
	noColor   bool
	settle    time.Duration
	width     int
	loopLimit int
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config, log *slog.Logger) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand("run", "Run files and show each line's values", "run [options] <file|dir>..."),
		config:      cfg,
		log:         log,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	schema := config.DefaultSchema()
	fs.StringVar(&c.filter, "filter", schema.Resolve(c.config, "run", "filter"), "Filter expression over payloads, e.g. 'kind == \"variable\"'")
	fs.StringVar(&c.entry, "entry", "", "Entry file, relative to the project root")
	fs.BoolVar(&c.jsonOut, "json", schema.ResolveBool(c.config, "run", "json"), "Print payloads as JSON lines")
	fs.BoolVar(&c.all, "all", schema.ResolveBool(c.config, "run", "all"), "Show every occurrence instead of the latest per site")
	fs.BoolVar(&c.noColor, "no-color", false, "Disable colour")
	fs.DurationVar(&c.settle, "settle", schema.ResolveDuration(c.config, "run", "settle"), "Time to keep collecting asynchronous payloads")
	fs.IntVar(&c.width, "width", 0, "Maximum output width (default: terminal width)")
	fs.IntVar(&c.loopLimit, "loop-limit", 0, "Iteration ceiling for unbounded loops (default from config)")
}

// Execute runs the project.
func (c *RunCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return c.usageError(stderr, "run needs at least one file or directory")
	}
	pred, err := store.CompileFilter(c.filter)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return err
	}
	project, err := loadProject(args, c.entry)
	if err != nil {
		return err
	}

	h, err := startHost(ctx, c.config, c.logger(), c.loopLimit)
	if err != nil {
		return err
	}
	defer h.Close()

	if _, err := h.Run(ctx, project); err != nil {
		var be *build.Error
		if !errors.As(err, &be) {
			return err
		}
	} else if err := sleep(ctx, c.settle); err != nil {
		return err
	}

	st := h.Store()
	var payloads []protocol.Payload
	if c.all {
		payloads = st.Visible(pred, nil)
	} else {
		payloads = st.LatestByContext(pred, nil)
	}

	if c.jsonOut {
		err = writeJSONLines(stdout, st, payloads)
	} else {
		c.writeListings(stdout, project, st, payloads)
	}
	if err != nil {
		return err
	}

	status := st.Status()
	_, _ = fmt.Fprintln(stderr, render.StatusLine(status))
	if !status.OK() {
		return ErrRunFailed
	}
	return nil
}

func (c *RunCommand) logger() *slog.Logger {
	if c.log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.log
}

func (c *RunCommand) writeListings(w io.Writer, p build.Project, st *store.Store, payloads []protocol.Payload) {
	width := c.width
	if width <= 0 {
		width = terminalWidth(w)
	}
	styles := stylesFor(c.config, c.noColor, w)
	for i, file := range slices.Sorted(maps.Keys(p.Files)) {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		l := render.Listing{File: file, Source: p.Files[file], Width: width, Styles: styles}
		_, _ = fmt.Fprint(w, l.Render(render.Decorate(file, payloads, st.Context)))
	}
	// Sites outside every project file, such as bundler diagnostics.
	for _, pl := range payloads {
		site, ok := st.Context(pl.ContextID)
		if !ok {
			continue
		}
		if _, known := p.Files[site.File]; !known {
			_, _ = fmt.Fprintf(w, "%s: %s\n", siteLabel(site), render.Describe(pl, site).Text())
		}
	}
}

func siteLabel(c instrument.CaptureContext) string {
	if c.File == "" {
		return render.KindLabel(c.Kind)
	}
	return fmt.Sprintf("%s:%d", c.File, c.LineStart)
}

// payloadLine is one line of --json output.
type payloadLine struct {
	protocol.Payload
	Site    *instrument.CaptureContext `json:"site,omitempty"`
	Display string                     `json:"display"`
}

func writeJSONLines(w io.Writer, st *store.Store, payloads []protocol.Payload) error {
	enc := json.NewEncoder(w)
	for _, p := range payloads {
		line := payloadLine{Payload: p, Display: render.Inline(p.Result)}
		if site, ok := st.Context(p.ContextID); ok {
			line.Site = &site
			line.Display = render.Describe(p, site).Text()
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
