package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/ledger-fetcher/internal/config"
	"github.com/withObsrvr/ledger-fetcher/internal/export"
	"github.com/withObsrvr/ledger-fetcher/internal/logging"
	"github.com/withObsrvr/ledger-fetcher/internal/metrics"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "ledger-fetcher",
		Short:         "Fetch date-bounded ledger transactions in monthly chunks, in parallel",
		Version:       fmt.Sprintf("%s (%s) %s/%s", export.Version, export.GitSHA, runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "override log.format (json|text)")

	root.AddCommand(
		newFetchCmd(&flags),
		newPlanCmd(&flags),
		newVerifyCmd(&flags),
		newFailuresCmd(&flags),
	)
	return root
}

// loadConfig reads configuration, applies the global flag overrides and sets
// up logging.
func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	return cfg, nil
}

// startMetrics registers collectors and serves them in the background.
func startMetrics(cfg config.MetricsConfig) {
	if !cfg.Enabled {
		return
	}
	metrics.Init(cfg.Namespace)
	go func() {
		slog.Info("metrics server listening", "component", "main", "address", cfg.Address)
		if err := metrics.StartServer(cfg.Address); err != nil {
			slog.Error("metrics server stopped", "component", "main", "error", err)
		}
	}()
}
