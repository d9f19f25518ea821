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

	"github.com/joeycumines/liveeval/internal/config"
)

// ErrUnknownCommand is returned by Dispatch for a name nothing registered.
var ErrUnknownCommand = errors.New("unknown command")

// Registry manages the collection of available commands.
type Registry struct {
	commands map[string]Command
	// Program is the executable name used in messages.
	Program string
}

// NewRegistry creates an empty registry.
func NewRegistry(program string) *Registry {
	return &Registry{commands: make(map[string]Command), Program: program}
}

// Register adds a command, replacing any with the same name.
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Get returns a command by name.
func (r *Registry) Get(name string) (Command, error) {
	if cmd, ok := r.commands[name]; ok {
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

// List returns the registered command names, sorted.
func (r *Registry) List() []string {
	return slices.Sorted(maps.Keys(r.commands))
}

// Dispatch runs the command named by args[0] with the remaining arguments.
// With no arguments, or -h/--help, it runs "help".
func (r *Registry) Dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		args = []string{"help"}
	}
	cmd, err := r.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		_, _ = fmt.Fprintf(stderr, "Use '%s help' to see available commands.\n", r.Program)
		return err
	}

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: %s %s\n\n%s\n", r.Program, cmd.Usage(), cmd.Description())
		if hasFlags(fs) {
			_, _ = fmt.Fprintln(stderr, "\nOptions:")
			fs.PrintDefaults()
		}
	}
	cmd.SetupFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	return cmd.Execute(ctx, fs.Args(), stdout, stderr)
}

func hasFlags(fs *flag.FlagSet) bool {
	found := false
	fs.VisitAll(func(*flag.Flag) { found = true })
	return found
}

// RegisterBuiltins registers every liveeval command.
func RegisterBuiltins(r *Registry, cfg *config.Config, configPath, version string, log *slog.Logger) {
	r.Register(NewHelpCommand(r))
	r.Register(NewVersionCommand(version))
	r.Register(NewConfigCommand(cfg, configPath))
	r.Register(NewLogCommand(cfg))
	r.Register(NewInstrumentCommand(cfg))
	r.Register(NewRunCommand(cfg, log))
	r.Register(NewRewindCommand(cfg, log))
	r.Register(NewServeCommand(cfg, log))
}
