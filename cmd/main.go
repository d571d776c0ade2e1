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

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tlsforward/config"
	"github.com/angeloszaimis/tlsforward/pkg/logger"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads the configuration from args, binds every route and forwards
// until SIGINT or SIGTERM. Logs go to stdout; usage and flag errors to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		return err
	}

	log := logger.NewWithWriter(stdout, cfg.Logging.Level, false, cfg.Server.Environment)
	if cfg.ConfigFile != "" {
		log.Info("Loaded config file", slog.String("path", cfg.ConfigFile))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fwd, err := newForwarder(cfg, log)
	if err != nil {
		return err
	}

	if err := fwd.listen(ctx); err != nil {
		return err
	}

	return fwd.serve(ctx)
}
