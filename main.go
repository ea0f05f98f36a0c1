package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/audiosrc/cmd"
	"github.com/tphakala/audiosrc/internal/conf"
	"github.com/tphakala/audiosrc/internal/logger"
	"github.com/tphakala/audiosrc/internal/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	initialize := func(s *conf.Settings) error {
		if s.Debug {
			s.Logging.DefaultLevel = "debug"
		}
		centralLogger, err := logger.NewCentralLogger(&s.Logging)
		if err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
		logger.SetGlobal(centralLogger)
		cleanup = append(cleanup, func() { _ = centralLogger.Close() })

		flush, err := observability.InitSentry(s, version)
		if err != nil {
			centralLogger.Module("main").Warn("Error reporting disabled", logger.Error(err))
			return nil
		}
		cleanup = append(cleanup, flush)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.RootCommand(settings, initialize).ExecuteContext(ctx); err != nil {
		logger.Global().Module("main").Error("Command failed", logger.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
