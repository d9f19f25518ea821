package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString OptionType = "string"
	// TypeBool accepts true/false/yes/no/1/0/on/off.
	TypeBool OptionType = "bool"
	TypeInt  OptionType = "int"
	// TypeDuration is a time.Duration string such as "300ms".
	TypeDuration OptionType = "duration"
)

// ConfigOption declares one option.
type ConfigOption struct {
	// Key is the option name as it appears in the config file.
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Section is "" for global options, or a command name.
	Section string
	// EnvVar, if set, overrides the configured value.
	EnvVar string
}

// ConfigSchema is the set of declared options. It drives validation, help
// output and typed resolution.
type ConfigSchema struct {
	options []*ConfigOption
	// index is keyed by section ("" for global), then option key.
	index map[string]map[string]*ConfigOption
}

// NewSchema creates a new empty ConfigSchema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{index: make(map[string]map[string]*ConfigOption)}
}

// Register adds opt. A later registration of the same section and key wins.
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := &opt
	s.options = append(s.options, ref)
	if s.index[opt.Section] == nil {
		s.index[opt.Section] = make(map[string]*ConfigOption)
	}
	s.index[opt.Section][opt.Key] = ref
}

// RegisterAll adds multiple options.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the option for key in section ("" for global), or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	return s.index[section][key]
}

// SectionOptions returns the options of one section ("" for global), in
// registration order.
func (s *ConfigSchema) SectionOptions(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted names of every command section.
func (s *ConfigSchema) Sections() []string {
	out := make([]string, 0, len(s.index))
	for sec := range s.index {
		if sec != "" {
			out = append(out, sec)
		}
	}
	slices.Sort(out)
	return out
}

// Resolve returns the effective value of key for command ("" for global
// scope). Precedence: the option's environment variable, the command
// section, the global section, then the schema default. An empty
// environment variable counts as unset.
func (s *ConfigSchema) Resolve(c *Config, command, key string) string {
	opt := s.Lookup(command, key)
	if opt == nil {
		opt = s.Lookup("", key)
	}
	if opt != nil && opt.EnvVar != "" {
		if v := os.Getenv(opt.EnvVar); v != "" {
			return v
		}
	}
	if c != nil {
		if v, ok := c.GetCommandOption(command, key); ok {
			return v
		}
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ResolveBool is Resolve parsed as a bool. Unparseable values fall back to
// the schema default.
func (s *ConfigSchema) ResolveBool(c *Config, command, key string) bool {
	if b, err := parseBool(s.Resolve(c, command, key)); err == nil {
		return b
	}
	b, _ := parseBool(s.defaultOf(command, key))
	return b
}

// ResolveInt is Resolve parsed as an int, with the same fallback as
// ResolveBool.
func (s *ConfigSchema) ResolveInt(c *Config, command, key string) int {
	if i, err := strconv.Atoi(s.Resolve(c, command, key)); err == nil {
		return i
	}
	i, _ := strconv.Atoi(s.defaultOf(command, key))
	return i
}

// ResolveDuration is Resolve parsed as a time.Duration, with the same
// fallback as ResolveBool.
func (s *ConfigSchema) ResolveDuration(c *Config, command, key string) time.Duration {
	if d, err := time.ParseDuration(s.Resolve(c, command, key)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(s.defaultOf(command, key))
	return d
}

func (s *ConfigSchema) defaultOf(command, key string) string {
	if opt := s.Lookup(command, key); opt != nil {
		return opt.Default
	}
	if opt := s.Lookup("", key); opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig checks a loaded Config against the schema and returns a
// sorted list of human-readable issues: unknown options and values that do
// not parse as the declared type.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}
	for section, opts := range c.Commands {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
				continue
			}
			if err := validateType(opt.Type, value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}
	slices.Sort(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, "":
		return nil
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// FormatHelp renders every option, global options first, then one block
// per command section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if globals := s.SectionOptions(""); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.SectionOptions(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-24s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// --- Default schema ---

// DefaultSchema returns the schema declaring every liveeval option.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll(defaultGlobalOptions())
	s.RegisterAll(defaultCommandOptions())
	return s
}

func defaultGlobalOptions() []ConfigOption {
	return []ConfigOption{
		{Key: "verbose", Type: TypeBool, Default: "false", Description: "Enable verbose output"},
		{Key: "color", Type: TypeString, Default: "auto", Description: "Color mode: auto, always, never"},

		// Capture pipeline
		{Key: "loop-limit", Type: TypeInt, Default: "6000", Description: "Iteration ceiling injected into unbounded loops", EnvVar: "LIVEEVAL_LOOP_LIMIT"},
		{Key: "max-depth", Type: TypeInt, Default: "8", Description: "Nesting depth past which captured values are truncated"},
		{Key: "max-items", Type: TypeInt, Default: "1000", Description: "Elements captured per array, set, map or object"},
		{Key: "store.capacity", Type: TypeInt, Default: "10000", Description: "Payloads retained per run before the oldest are evicted"},
		{Key: "swap-timeout", Type: TypeDuration, Default: "2s", Description: "How long a run waits for script-complete before swapping frames"},
		{Key: "ready-interval", Type: TypeDuration, Default: "50ms", Description: "Interval at which unacknowledged frames re-announce readiness"},
		{Key: "debounce", Type: TypeDuration, Default: "300ms", Description: "Quiet period after an edit before it runs"},
		{Key: "theme", Type: TypeString, Default: "light", Description: "Theme propagated to execution frames", EnvVar: "LIVEEVAL_THEME"},
		{Key: "server.listen", Type: TypeString, Default: "127.0.0.1:8417", Description: "Address the playground server listens on", EnvVar: "LIVEEVAL_LISTEN"},

		// Logging options
		{Key: "log.file", Type: TypeString, Default: "", Description: "Log file path (JSON output)", EnvVar: "LIVEEVAL_LOG_FILE"},
		{Key: "log.level", Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "LIVEEVAL_LOG_LEVEL"},
		{Key: "log.max-size-mb", Type: TypeInt, Default: "10", Description: "Max log file size in MB before rotation"},
		{Key: "log.max-files", Type: TypeInt, Default: "5", Description: "Max number of rotated log backup files"},
		{Key: "log.buffer-size", Type: TypeInt, Default: "1000", Description: "In-memory log buffer size (entries)"},
	}
}

func defaultCommandOptions() []ConfigOption {
	return []ConfigOption{
		// [run] section
		{Key: "filter", Section: "run", Type: TypeString, Default: "", Description: "Default payload filter expression"},
		{Key: "json", Section: "run", Type: TypeBool, Default: "false", Description: "Print payloads as JSON lines"},
		{Key: "settle", Section: "run", Type: TypeDuration, Default: "100ms", Description: "Time to keep collecting asynchronous payloads after script-complete"},
		{Key: "all", Section: "run", Type: TypeBool, Default: "false", Description: "Show every occurrence instead of the latest per site"},

		// [rewind] section
		{Key: "filter", Section: "rewind", Type: TypeString, Default: "", Description: "Default payload filter expression"},
		{Key: "settle", Section: "rewind", Type: TypeDuration, Default: "100ms", Description: "Time to keep collecting asynchronous payloads after script-complete"},

		// [serve] section
		{Key: "static", Section: "serve", Type: TypeString, Default: "", Description: "Directory of editor assets served at /"},
	}
}
