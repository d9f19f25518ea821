package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
)

// ErrUsage marks an error caused by how a command was invoked rather than
// by what it did.
var ErrUsage = errors.New("usage error")

// Command is one liveeval subcommand. Dispatch parses the flags registered
// by SetupFlags and passes Execute the positional arguments that remain.
type Command interface {
	Name() string
	Description() string
	// Usage is the synopsis shown after the program name, e.g.
	// "run [options] <file|dir>...".
	Usage() string
	SetupFlags(fs *flag.FlagSet)
	// Execute runs until done or until ctx is cancelled.
	Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error
}

// BaseCommand carries the descriptive half of a Command. Embedders supply
// Execute and, if they take flags, SetupFlags.
type BaseCommand struct {
	name        string
	description string
	usage       string
}

func NewBaseCommand(name, description, usage string) *BaseCommand {
	return &BaseCommand{name: name, description: description, usage: usage}
}

func (c *BaseCommand) Name() string        { return c.name }
func (c *BaseCommand) Description() string { return c.description }
func (c *BaseCommand) Usage() string       { return c.usage }

func (c *BaseCommand) SetupFlags(*flag.FlagSet) {}

// usageError writes msg and the command synopsis to stderr and returns an
// error wrapping ErrUsage.
func (c *BaseCommand) usageError(stderr io.Writer, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(stderr, "%s\nUsage: %s\n", msg, c.usage)
	return fmt.Errorf("%s: %w: %s", c.name, ErrUsage, msg)
}
