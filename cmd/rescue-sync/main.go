// rescue-sync keeps a local board of open rescues in step with the rescue
// API. It persists the board between runs, republishes board changes to
// RabbitMQ and to local HTTP subscribers, and reconnects when the API
// endpoint in its configuration file changes.
//
// Usage:
//
//	rescue-sync [--config FILE] [--env-file FILE] [--host HOST]
//	rescue-sync schema
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fuelrats/rescue-api-go/config"
	"github.com/fuelrats/rescue-api-go/internal/logctx"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		configPath string
		envFile    string
		host       string
	)
	flags := pflag.NewFlagSet("rescue-sync", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file, watched for endpoint changes")
	flags.StringVar(&envFile, "env-file", "", "load variables from this file instead of .env")
	flags.StringVar(&host, "host", "", "API host, overriding configuration and environment")
	flags.SetOutput(stdout)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if flags.Arg(0) == "schema" {
		b, err := config.SchemaJSON()
		if err != nil {
			return err
		}
		_, err = stdout.Write(b)
		return err
	}

	if host != "" {
		if err := os.Setenv("RESCUE_API_HOST", host); err != nil {
			return err
		}
	}
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newApp(cfg, log).run(ctx, configPath)
}

func newLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return logctx.Wrap(slog.New(h))
}
