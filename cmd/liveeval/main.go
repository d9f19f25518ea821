package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/liveeval/internal/command"
	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/logging"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, command.ErrRunFailed) {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: %v\n", err)
		cfg = config.NewConfig()
	}
	for _, w := range cfg.Warnings {
		_, _ = fmt.Fprintf(stderr, "Warning: %s\n", w)
	}

	log, err := logging.New(cfg.Playground().Log)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer log.Close()

	registry := command.NewRegistry("liveeval")
	command.RegisterBuiltins(registry, cfg, configPath, version, log.Logger)
	return registry.Dispatch(ctx, args, stdout, stderr)
}
