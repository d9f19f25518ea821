package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/protocol"
	"github.com/joeycumines/liveeval/internal/render"
	"github.com/joeycumines/liveeval/internal/store"
	"github.com/joeycumines/liveeval/internal/termui/timeline"
)

// RewindCommand runs a project and opens an interactive view for stepping
// through its payloads.
type RewindCommand struct {
	*BaseCommand
	config *config.Config
	log    *slog.Logger

	filter    string
	entry     string
	noColor   bool
	settle    time.Duration
	loopLimit int
}

// NewRewindCommand creates a new rewind command.
func NewRewindCommand(cfg *config.Config, log *slog.Logger) *RewindCommand {
	return &RewindCommand{
		BaseCommand: NewBaseCommand("rewind", "Run files and step back and forth through their values", "rewind [options] <file|dir>..."),
		config:      cfg,
		log:         log,
	}
}

// SetupFlags configures the flags for the rewind command.
func (c *RewindCommand) SetupFlags(fs *flag.FlagSet) {
	schema := config.DefaultSchema()
	fs.StringVar(&c.filter, "filter", schema.Resolve(c.config, "rewind", "filter"), "Filter expression over payloads")
	fs.StringVar(&c.entry, "entry", "", "Entry file, relative to the project root")
	fs.BoolVar(&c.noColor, "no-color", false, "Disable colour")
	fs.DurationVar(&c.settle, "settle", schema.ResolveDuration(c.config, "rewind", "settle"), "Time to keep collecting asynchronous payloads before the view opens")
	fs.IntVar(&c.loopLimit, "loop-limit", 0, "Iteration ceiling for unbounded loops (default from config)")
}

// Execute runs the project and the interactive view.
func (c *RewindCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return c.usageError(stderr, "rewind needs at least one file or directory")
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
	log := c.log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h, err := startHost(ctx, c.config, log, c.loopLimit)
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

	m := newRewindModel(h.Store(), project, pred, stylesFor(c.config, c.noColor, stdout))
	changes, cancel := h.Store().Subscribe()
	defer cancel()
	m.changes = changes

	_, err = tea.NewProgram(m, tea.WithContext(ctx), tea.WithOutput(stdout), tea.WithAltScreen()).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// storeChangedMsg reports that the store notified its subscribers.
type storeChangedMsg struct{}

type rewindModel struct {
	store   *store.Store
	project build.Project
	files   []string
	pred    store.Predicate
	styles  render.Styles
	changes <-chan struct{}

	viewport viewport.Model
	bar      timeline.Model
	footer   lipgloss.Style
	width    int
}

func newRewindModel(st *store.Store, p build.Project, pred store.Predicate, styles render.Styles) *rewindModel {
	m := &rewindModel{
		store:    st,
		project:  p,
		files:    slices.Sorted(maps.Keys(p.Files)),
		pred:     pred,
		styles:   styles,
		viewport: viewport.New(80, 20),
		bar:      timeline.New(timeline.WithWidth(80)),
		footer:   lipgloss.NewStyle().Faint(true),
		width:    80,
	}
	m.refresh()
	return m
}

func (m *rewindModel) Init() tea.Cmd {
	return m.waitForChange()
}

func (m *rewindModel) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func (m *rewindModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-3)
		m.bar.Width = msg.Width
		m.refresh()
		return m, nil

	case storeChangedMsg:
		m.refresh()
		return m, m.waitForChange()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "left", "h":
			m.move(store.Rewind.Prev)
			return m, nil
		case "right", "l":
			m.move(store.Rewind.Next)
			return m, nil
		case "home", "g":
			m.move(store.Rewind.First)
			return m, nil
		case "end", "G":
			m.move(store.Rewind.Last)
			return m, nil
		case "esc":
			m.move(func(r store.Rewind, _ []protocol.PayloadID) store.Rewind { return r.Exit() })
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *rewindModel) move(fn func(store.Rewind, []protocol.PayloadID) store.Rewind) {
	m.store.Navigate(fn)
	m.refresh()
}

// refresh rebuilds the listing and timeline for the current cursor.
func (m *rewindModel) refresh() {
	cutoff := m.store.Rewind().Cutoff()
	payloads := m.store.LatestByContext(m.pred, cutoff)
	var b strings.Builder
	for i, file := range m.files {
		if i > 0 {
			b.WriteString("\n")
		}
		l := render.Listing{File: file, Source: m.project.Files[file], Width: m.width, Styles: m.styles}
		b.WriteString(l.Render(render.Decorate(file, payloads, m.store.Context)))
	}
	m.viewport.SetContent(b.String())

	all := m.store.Visible(nil, nil)
	m.bar.Total = len(all)
	m.bar.Position = -1
	m.bar.Marks = make(map[int]bool)
	for i, p := range all {
		if p.IsError {
			m.bar.Marks[i] = true
		}
		if cutoff != nil && p.ID == *cutoff {
			m.bar.Position = i
		}
	}
}

// step describes the payload under the cursor.
func (m *rewindModel) step() string {
	cutoff := m.store.Rewind().Cutoff()
	if cutoff == nil {
		return "live"
	}
	seen := m.store.Visible(nil, cutoff)
	if len(seen) == 0 {
		return "live"
	}
	p := seen[len(seen)-1]
	desc := fmt.Sprintf("step %d/%d", len(seen), m.bar.Total)
	if c, ok := m.store.Context(p.ContextID); ok {
		desc += fmt.Sprintf(": %s %s:%d %s", render.KindLabel(c.Kind), c.File, c.LineStart, render.Describe(p, c).Text())
	}
	return desc
}

func (m *rewindModel) View() string {
	status := render.StatusLine(m.store.Status()) + " | " + m.step()
	help := "←/→ step  g/G first/last  esc live  q quit"
	return m.viewport.View() + "\n" +
		m.bar.View() + "\n" +
		m.footer.Render(render.Truncate(status, m.width)) + "\n" +
		m.footer.Render(render.Truncate(help, m.width))
}
