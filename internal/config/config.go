// Package config provides configuration types and defaults for the fleet
// coordinator.
package config

import (
	"fmt"

	"github.com/fleetctl/coordinator/internal/tracing"
)

// Config holds all configuration for a coordinator process.
type Config struct {
	DatabasePath string           `mapstructure:"database_path"`
	ListenAddr   string           `mapstructure:"listen_addr"`
	Worker       WorkerConfig     `mapstructure:"worker"`
	SpawnQueue   SpawnQueueConfig `mapstructure:"spawn_queue"`
	Workflow     WorkflowConfig   `mapstructure:"workflow"`
	Tracing      tracing.Config   `mapstructure:"tracing"`
}

// WorkerConfig tunes the worker supervisor: health polling cadence, restart
// policy, output retention, and the subprocess command line used to spawn
// a worker.
type WorkerConfig struct {
	MaxWorkers            int      `mapstructure:"max_workers"`
	HealthCheckIntervalMs int      `mapstructure:"health_check_interval_ms"`
	HealthyThresholdMs    int      `mapstructure:"healthy_threshold_ms"`
	UnhealthyThresholdMs  int      `mapstructure:"unhealthy_threshold_ms"`
	MaxRestartAttempts    int      `mapstructure:"max_restart_attempts"`
	MaxOutputLines        int      `mapstructure:"max_output_lines"`
	SpawnTimeoutMs        int      `mapstructure:"spawn_timeout_ms"`
	DismissGraceMs        int      `mapstructure:"dismiss_grace_ms"`
	Executable            string   `mapstructure:"executable"`
	BaseArgs              []string `mapstructure:"base_args"`
}

// SpawnQueueConfig tunes the spawn controller's admission control and
// drain loop.
type SpawnQueueConfig struct {
	SoftLimit         int `mapstructure:"soft_limit"`
	HardLimit         int `mapstructure:"hard_limit"`
	MaxDepth          int `mapstructure:"max_depth"`
	ProcessIntervalMs int `mapstructure:"process_interval_ms"`
}

// WorkflowConfig tunes the workflow engine's processing cycle.
type WorkflowConfig struct {
	ProcessIntervalMs  int `mapstructure:"process_interval_ms"`
	MaxConcurrentSteps int `mapstructure:"max_concurrent_steps"`
}

// Defaults returns the coordinator's baseline tuning constants.
func Defaults() Config {
	return Config{
		DatabasePath: "fleet.db",
		ListenAddr:   "localhost:19999",
		Worker: WorkerConfig{
			MaxWorkers:            5,
			HealthCheckIntervalMs: 15_000,
			HealthyThresholdMs:    30_000,
			UnhealthyThresholdMs:  60_000,
			MaxRestartAttempts:    3,
			MaxOutputLines:        100,
			SpawnTimeoutMs:        30_000,
			DismissGraceMs:        5_000,
			Executable:            "claude",
			BaseArgs:              []string{"--output-format", "stream-json", "--verbose"},
		},
		SpawnQueue: SpawnQueueConfig{
			SoftLimit:         50,
			HardLimit:         100,
			MaxDepth:          3,
			ProcessIntervalMs: 5_000,
		},
		Workflow: WorkflowConfig{
			ProcessIntervalMs:  5_000,
			MaxConcurrentSteps: 5,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks c for internally-inconsistent values, following the
// ValidateViews/ValidateOrchestration pattern of returning a descriptive
// error rather than panicking or silently clamping.
func Validate(c Config) error {
	if err := ValidateWorker(c.Worker); err != nil {
		return err
	}
	if err := ValidateSpawnQueue(c.SpawnQueue); err != nil {
		return err
	}
	if err := ValidateWorkflow(c.Workflow); err != nil {
		return err
	}
	return nil
}

// ValidateWorker checks worker supervisor tuning for errors.
func ValidateWorker(w WorkerConfig) error {
	if w.MaxWorkers <= 0 {
		return fmt.Errorf("worker.max_workers must be positive, got %d", w.MaxWorkers)
	}
	if w.HealthyThresholdMs <= 0 || w.UnhealthyThresholdMs <= 0 {
		return fmt.Errorf("worker health thresholds must be positive")
	}
	if w.HealthyThresholdMs >= w.UnhealthyThresholdMs {
		return fmt.Errorf("worker.healthy_threshold_ms (%d) must be less than unhealthy_threshold_ms (%d)",
			w.HealthyThresholdMs, w.UnhealthyThresholdMs)
	}
	if w.MaxRestartAttempts < 0 {
		return fmt.Errorf("worker.max_restart_attempts must be non-negative")
	}
	if w.MaxOutputLines <= 0 {
		return fmt.Errorf("worker.max_output_lines must be positive")
	}
	if w.Executable == "" {
		return fmt.Errorf("worker.executable must be set")
	}
	return nil
}

// ValidateSpawnQueue checks spawn controller tuning for errors.
func ValidateSpawnQueue(s SpawnQueueConfig) error {
	if s.SoftLimit <= 0 || s.HardLimit <= 0 {
		return fmt.Errorf("spawn_queue soft_limit and hard_limit must be positive")
	}
	if s.SoftLimit > s.HardLimit {
		return fmt.Errorf("spawn_queue.soft_limit (%d) must not exceed hard_limit (%d)",
			s.SoftLimit, s.HardLimit)
	}
	if s.MaxDepth < 0 {
		return fmt.Errorf("spawn_queue.max_depth must be non-negative")
	}
	if s.ProcessIntervalMs <= 0 {
		return fmt.Errorf("spawn_queue.process_interval_ms must be positive")
	}
	return nil
}

// ValidateWorkflow checks workflow engine tuning for errors.
func ValidateWorkflow(w WorkflowConfig) error {
	if w.MaxConcurrentSteps <= 0 {
		return fmt.Errorf("workflow.max_concurrent_steps must be positive")
	}
	if w.ProcessIntervalMs <= 0 {
		return fmt.Errorf("workflow.process_interval_ms must be positive")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a commented YAML
// string. fleetd does not write it to disk; with no config file present
// it runs on the values from Defaults.
func DefaultConfigTemplate() string {
	return `# Fleet coordinator configuration

# Path to the SQLite database file.
database_path: fleet.db

# Address the coordinator's API/WebSocket hub listens on.
listen_addr: localhost:19999

# Worker supervisor tuning.
worker:
  max_workers: 5
  health_check_interval_ms: 15000
  healthy_threshold_ms: 30000
  unhealthy_threshold_ms: 60000
  max_restart_attempts: 3
  max_output_lines: 100
  spawn_timeout_ms: 30000
  dismiss_grace_ms: 5000
  executable: claude
  base_args: ["--output-format", "stream-json", "--verbose"]

# Spawn controller admission control and drain loop.
spawn_queue:
  soft_limit: 50
  hard_limit: 100
  max_depth: 3
  process_interval_ms: 5000

# Workflow engine processing cycle.
workflow:
  process_interval_ms: 5000
  max_concurrent_steps: 5

# Distributed tracing (disabled by default).
tracing:
  enabled: false
  exporter: stdout
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: fleet-coordinator
`
}
