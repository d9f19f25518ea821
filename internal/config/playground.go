package config

import (
	"log/slog"
	"strings"
	"time"
)

// PlaygroundConfig is the resolved, typed set of options the capture
// pipeline runs with.
type PlaygroundConfig struct {
	LoopLimit     int
	MaxDepth      int
	MaxItems      int
	StoreCapacity int
	SwapTimeout   time.Duration
	ReadyInterval time.Duration
	Debounce      time.Duration
	Theme         string
	Listen        string
	Log           LogConfig
}

// LogConfig is the resolved logging configuration.
type LogConfig struct {
	Level      slog.Level
	File       string
	MaxSizeMB  int
	MaxFiles   int
	BufferSize int
}

// Playground resolves the pipeline options against the default schema.
// A nil Config yields the defaults, subject to environment overrides.
func (c *Config) Playground() PlaygroundConfig {
	s := DefaultSchema()
	return PlaygroundConfig{
		LoopLimit:     s.ResolveInt(c, "", "loop-limit"),
		MaxDepth:      s.ResolveInt(c, "", "max-depth"),
		MaxItems:      s.ResolveInt(c, "", "max-items"),
		StoreCapacity: s.ResolveInt(c, "", "store.capacity"),
		SwapTimeout:   s.ResolveDuration(c, "", "swap-timeout"),
		ReadyInterval: s.ResolveDuration(c, "", "ready-interval"),
		Debounce:      s.ResolveDuration(c, "", "debounce"),
		Theme:         s.Resolve(c, "", "theme"),
		Listen:        s.Resolve(c, "", "server.listen"),
		Log: LogConfig{
			Level:      ParseLevel(s.Resolve(c, "", "log.level")),
			File:       s.Resolve(c, "", "log.file"),
			MaxSizeMB:  s.ResolveInt(c, "", "log.max-size-mb"),
			MaxFiles:   s.ResolveInt(c, "", "log.max-files"),
			BufferSize: s.ResolveInt(c, "", "log.buffer-size"),
		},
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
