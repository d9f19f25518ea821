package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/logging"
)

// LogCommand prints and follows the log file.
type LogCommand struct {
	*BaseCommand
	config *config.Config
	follow bool
	lines  int
	file   string
}

// NewLogCommand creates a new log command.
func NewLogCommand(cfg *config.Config) *LogCommand {
	return &LogCommand{
		BaseCommand: NewBaseCommand("log", "View and tail the log file", "log [tail] [options]"),
		config:      cfg,
	}
}

// SetupFlags configures the flags for the log command.
func (c *LogCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.follow, "f", false, "Follow the log file (like tail -f)")
	fs.BoolVar(&c.follow, "follow", false, "Follow the log file (like tail -f)")
	fs.IntVar(&c.lines, "n", 10, "Number of lines to show from the end of the file")
	fs.StringVar(&c.file, "file", "", "Path to log file (overrides config log.file)")
}

// Execute runs the log command. "log tail" is shorthand for "log --follow".
func (c *LogCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "tail" {
		c.follow = true
		args = args[1:]
	}
	if len(args) > 0 {
		return c.usageError(stderr, "unknown subcommand: %s", args[0])
	}

	path := c.file
	if path == "" {
		path = config.DefaultSchema().Resolve(c.config, "", "log.file")
	}
	if path == "" {
		_, _ = fmt.Fprintln(stderr, "No log file configured. Use --file or set log.file in config.")
		return errors.New("no log file configured")
	}

	if c.follow {
		err := logging.Follow(ctx, path, c.lines, stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = fmt.Fprintf(stderr, "Log file does not exist: %s\n", path)
			return fmt.Errorf("log file not found: %s", path)
		}
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()
	lines, err := logging.LastLines(f, c.lines)
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(stdout, line)
	}
	return nil
}
