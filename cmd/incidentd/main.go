// Package main implements the incidentd CLI for inspecting investigations
// and validating skill definitions.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/incidentd/internal/checkpoint"
	"github.com/fyrsmithlabs/incidentd/internal/config"
	"github.com/fyrsmithlabs/incidentd/internal/logging"
	"github.com/fyrsmithlabs/incidentd/internal/telemetry"
)

var (
	// configPath overrides the default config file location
	configPath string
	// outputJSON switches table output to JSON
	outputJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "incidentd",
	Short: "Incident investigation orchestration",
	Long: `incidentd drives incident investigations: hypothesis tracking, gated
remediation skills, and durable checkpoints. This CLI inspects checkpoint
state and validates skill definitions.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/incidentd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
}

// loadConfig loads configuration and builds the process logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// setupTelemetry installs the OTLP trace and metric providers when enabled.
// The returned shutdown function flushes pending exports; callers defer it
// for the life of the command.
func setupTelemetry(cfg *config.Config, logger *zap.Logger) func() {
	tel, err := telemetry.New(context.Background(), &telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
}

// openStore opens the checkpoint store from configuration, with telemetry
// providers installed. The returned cleanup closes the store and flushes
// telemetry; callers defer it.
func openStore() (*checkpoint.Store, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	telShutdown := setupTelemetry(cfg, logger)
	store, err := checkpoint.NewStore(&checkpoint.Config{
		Path:                cfg.Storage.Path,
		InMemory:            cfg.Storage.InMemory,
		SyncWrites:          cfg.Storage.SyncWrites,
		MaxPerInvestigation: cfg.Checkpoint.MaxPerInvestigation,
	}, logger)
	if err != nil {
		telShutdown()
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("close checkpoint store", zap.Error(err))
		}
		telShutdown()
	}
	return store, cleanup, nil
}
