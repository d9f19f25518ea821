package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/server"
)

// ServeCommand runs the playground server.
type ServeCommand struct {
	*BaseCommand
	config *config.Config
	log    *slog.Logger

	listen string
	static string
	entry  string
}

// NewServeCommand creates a new serve command.
func NewServeCommand(cfg *config.Config, log *slog.Logger) *ServeCommand {
	return &ServeCommand{
		BaseCommand: NewBaseCommand("serve", "Serve the playground API and editor channel", "serve [options] [file|dir...]"),
		config:      cfg,
		log:         log,
	}
}

// SetupFlags configures the flags for the serve command.
func (c *ServeCommand) SetupFlags(fs *flag.FlagSet) {
	schema := config.DefaultSchema()
	fs.StringVar(&c.listen, "listen", c.config.Playground().Listen, "Address to listen on")
	fs.StringVar(&c.static, "static", schema.Resolve(c.config, "serve", "static"), "Directory of editor assets served at /")
	fs.StringVar(&c.entry, "entry", "", "Entry file of the initial project")
}

// Execute serves until ctx is cancelled. Files given as arguments are run
// once at startup.
func (c *ServeCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	log := c.log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var initial *build.Project
	if len(args) > 0 {
		p, err := loadProject(args, c.entry)
		if err != nil {
			return err
		}
		initial = &p
	}

	h, err := startHost(ctx, c.config, log, 0)
	if err != nil {
		return err
	}
	defer h.Close()
	if initial != nil {
		h.Edit(*initial)
	}

	srv := server.New(h, server.Options{Static: c.static, Logger: log})
	_, _ = fmt.Fprintf(stdout, "Serving playground on http://%s\n", c.listen)
	err = srv.ListenAndServe(ctx, c.listen)
	if err != nil && !errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintf(stderr, "server error: %v\n", err)
		return err
	}
	return nil
}
