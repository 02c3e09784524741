// Command server exposes the orchestration patterns over HTTP. Configuration
// comes from an optional YAML file plus AGENTWEAVE_* environment overrides;
// API keys are read by the provider SDKs from their usual variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/agentweave"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/runner"
	"github.com/hupe1980/agentweave/server"
	"github.com/hupe1980/agentweave/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry.shutdown.failed", "error", err)
		}
	}()

	observer := telemetry.Observer(telemetry.NewLoggerObserver(logger))

	if cfg.Telemetry.Enabled {
		otelObserver, err := telemetry.NewOTel()
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}

		observer = telemetry.NewMulti(observer, otelObserver)
	}

	models, err := agentweave.NewProviderRegistry(func(o *agentweave.RegistryOptions) {
		o.Provider = cfg.Models.Provider
		o.Fast = cfg.Models.Fast
		o.Balanced = cfg.Models.Balanced
		o.Deep = cfg.Models.Deep
	})
	if err != nil {
		return err
	}

	aw, err := agentweave.New(func(o *agentweave.Options) {
		o.Models = models
		o.Logger = logger
		o.Observer = observer
		o.MaxModelCalls = cfg.MaxModelCalls
		o.Hooks = runner.LoggingHooks(logger)
	})
	if err != nil {
		return err
	}

	logger.Info("server.start",
		"addr", cfg.Addr,
		"provider", cfg.Models.Provider,
		"patterns", aw.Patterns(),
	)

	srv := server.New(cfg, aw.Runner(), func(o *server.Options) {
		o.Logger = logger
	})

	return srv.Run(ctx)
}
