package command

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/joeycumines/liveeval/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand("help", "Display help information for commands", "help [command]"),
		registry:    registry,
	}
}

// Execute displays help information.
func (c *HelpCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	prog := c.registry.Program
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stdout, "%s - watch JavaScript evaluate, line by line\n\n", prog)
		_, _ = fmt.Fprintf(stdout, "Usage: %s <command> [options] [args...]\n\n", prog)
		_, _ = fmt.Fprintln(stdout, "Commands:")
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()
		_, _ = fmt.Fprintf(stdout, "\nUse '%s help <command>' for more information about a command.\n", prog)
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: %s %s\n", prog, cmd.Usage())

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	var buf bytes.Buffer
	fs.SetOutput(&buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "\nFlags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand("version", "Display version information", "version"),
		version:     version,
	}
}

// Execute displays version information.
func (c *VersionCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		return c.usageError(stderr, "unexpected arguments: %v", args)
	}
	_, _ = fmt.Fprintf(stdout, "liveeval version %s\n", c.version)
	return nil
}

// ConfigCommand shows, validates and sets configuration.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	showAll    bool
}

// NewConfigCommand creates a new config command. An empty configPath
// resolves the default path when a value is set.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand("config", "Manage configuration settings", "config [--all] [validate | schema | <key> [value]]"),
		config:      cfg,
		configPath:  configPath,
	}
}

// SetupFlags configures the flags for the config command.
func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showAll, "all", false, "Show every option with its effective value")
}

// Execute manages configuration.
func (c *ConfigCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()
	if len(args) == 0 {
		if c.showAll {
			c.showEffective(stdout, schema)
			return nil
		}
		_, _ = fmt.Fprintln(stdout, "Configuration management:")
		_, _ = fmt.Fprintln(stdout, "  config <key>          - Get the effective value of an option")
		_, _ = fmt.Fprintln(stdout, "  config <key> <value>  - Set a global option")
		_, _ = fmt.Fprintln(stdout, "  config --all          - Show every option")
		_, _ = fmt.Fprintln(stdout, "  config validate       - Validate the configuration file")
		_, _ = fmt.Fprintln(stdout, "  config schema         - Describe every option")
		return nil
	}

	switch args[0] {
	case "validate":
		issues := config.ValidateConfig(c.config, schema)
		if len(issues) == 0 {
			_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
		}
		return nil
	case "schema":
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
		return nil
	}

	switch len(args) {
	case 1:
		key := args[0]
		if schema.Lookup("", key) == nil {
			if _, ok := c.config.GetGlobalOption(key); !ok {
				_, _ = fmt.Fprintf(stdout, "Configuration key '%s' not found\n", key)
				return nil
			}
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", key, schema.Resolve(c.config, "", key))
		return nil
	case 2:
		key, value := args[0], args[1]
		if opt := schema.Lookup("", key); opt == nil {
			_, _ = fmt.Fprintf(stderr, "Warning: %q is not a known global option\n", key)
		}
		c.config.SetGlobalOption(key, value)
		path := c.configPath
		if path == "" {
			path, _ = config.GetConfigPath()
		}
		if path != "" {
			if err := config.SetKeyInFile(path, key, value); err != nil {
				_, _ = fmt.Fprintf(stderr, "Warning: failed to persist config to disk: %v\n", err)
			}
		}
		_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", key, value)
		return nil
	}
	return c.usageError(stderr, "invalid number of arguments")
}

func (c *ConfigCommand) showEffective(stdout io.Writer, schema *config.ConfigSchema) {
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Global:")
	for _, o := range schema.SectionOptions("") {
		_, _ = fmt.Fprintf(w, "  %s\t%s\n", o.Key, schema.Resolve(c.config, "", o.Key))
	}
	for _, sec := range schema.Sections() {
		_, _ = fmt.Fprintf(w, "[%s]\n", sec)
		for _, o := range schema.SectionOptions(sec) {
			_, _ = fmt.Fprintf(w, "  %s\t%s\n", o.Key, schema.Resolve(c.config, sec, o.Key))
		}
	}
	unknown := make(map[string]string)
	for k, v := range c.config.Global {
		if schema.Lookup("", k) == nil {
			unknown[k] = v
		}
	}
	if len(unknown) > 0 {
		_, _ = fmt.Fprintln(w, "Unrecognized:")
		for _, k := range slices.Sorted(maps.Keys(unknown)) {
			_, _ = fmt.Fprintf(w, "  %s\t%s\n", k, unknown[k])
		}
	}
	_ = w.Flush()
}
