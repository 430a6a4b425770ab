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
	"time"

	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
)

const usage = `Usage: recall <command> [flags]

Commands:
  serve   Run the scheduling and progress HTTP service
  plan    Schedule a markdown deck for a session and print the review order

Run 'recall <command> --help' for the flags of a command.
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(ctx, args)
	case "plan":
		err = runPlan(ctx, args, os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("recall failed", "error", err)
		os.Exit(1)
	}
}

// setup parses the shared flags, loads the configuration, and installs the
// default logger and tracer provider.
func setup(ctx context.Context, fs *pflag.FlagSet, args []string) (*config.Config, func(context.Context) error, error) {
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(os.Getenv("RECALL_CONFIG"), fs)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Stdout:      cfg.Telemetry.Stdout,
		Writer:      os.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	return cfg, shutdown, nil
}

// newLogger builds the process logger for the configured format.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level := cfg.SlogLevel()
	var handler slog.Handler
	switch cfg.Format {
	case "tint":
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.RFC3339})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
