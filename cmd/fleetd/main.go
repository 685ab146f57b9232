// Command fleetd runs the fleet coordinator as a long-running server:
// it supervises subprocess workers, drains the spawn queue, and drives
// workflow executions to completion. Entry-point wiring is explicit
// construction with no package-level globals besides the cobra/viper
// command plumbing below.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"github.com/fleetctl/coordinator/internal/config"
	"github.com/fleetctl/coordinator/internal/coordinator"
	"github.com/fleetctl/coordinator/internal/logging"
	"github.com/fleetctl/coordinator/internal/store/sqlite"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
	debug   bool
	addr    string

	// viper uses "::" as its key delimiter so nested keys never collide
	// with literal map keys that happen to contain a dot.
	viper = viperlib.NewWithOptions(viperlib.KeyDelimiter("::"))
)

var rootCmd = &cobra.Command{
	Use:     "fleetd",
	Short:   "Run the fleet coordinator daemon",
	Version: version,
	RunE:    run,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./fleetd.yaml or ~/.config/fleetd/config.yaml)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("database_path", defaults.DatabasePath)
	viper.SetDefault("listen_addr", defaults.ListenAddr)
	viper.SetDefault("worker::max_workers", defaults.Worker.MaxWorkers)
	viper.SetDefault("worker::health_check_interval_ms", defaults.Worker.HealthCheckIntervalMs)
	viper.SetDefault("worker::healthy_threshold_ms", defaults.Worker.HealthyThresholdMs)
	viper.SetDefault("worker::unhealthy_threshold_ms", defaults.Worker.UnhealthyThresholdMs)
	viper.SetDefault("worker::max_restart_attempts", defaults.Worker.MaxRestartAttempts)
	viper.SetDefault("worker::max_output_lines", defaults.Worker.MaxOutputLines)
	viper.SetDefault("worker::spawn_timeout_ms", defaults.Worker.SpawnTimeoutMs)
	viper.SetDefault("worker::dismiss_grace_ms", defaults.Worker.DismissGraceMs)
	viper.SetDefault("worker::executable", defaults.Worker.Executable)
	viper.SetDefault("worker::base_args", defaults.Worker.BaseArgs)
	viper.SetDefault("spawn_queue::soft_limit", defaults.SpawnQueue.SoftLimit)
	viper.SetDefault("spawn_queue::hard_limit", defaults.SpawnQueue.HardLimit)
	viper.SetDefault("spawn_queue::max_depth", defaults.SpawnQueue.MaxDepth)
	viper.SetDefault("spawn_queue::process_interval_ms", defaults.SpawnQueue.ProcessIntervalMs)
	viper.SetDefault("workflow::process_interval_ms", defaults.Workflow.ProcessIntervalMs)
	viper.SetDefault("workflow::max_concurrent_steps", defaults.Workflow.MaxConcurrentSteps)
	viper.SetDefault("tracing::enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing::exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing::otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing::sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing::service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if _, err := os.Stat("fleetd.yaml"); err == nil {
		viper.SetConfigFile("fleetd.yaml")
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "fleetd"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: error reading config: %v\n", err)
		}
	}
	_ = viper.Unmarshal(&cfg)
}

func run(_ *cobra.Command, _ []string) error {
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log := logging.New(os.Stdout, level)
	log.Info("fleetd starting", "version", version, "listenAddr", cfg.ListenAddr, "databasePath", cfg.DatabasePath)

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	co, err := coordinator.New(cfg, db, log)
	if err != nil {
		return fmt.Errorf("constructing coordinator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := co.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := co.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("fleetd stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
