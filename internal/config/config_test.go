package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidateWorker_RejectsInvertedThresholds(t *testing.T) {
	w := Defaults().Worker
	w.HealthyThresholdMs = w.UnhealthyThresholdMs
	err := ValidateWorker(w)
	require.Error(t, err)
	require.Contains(t, err.Error(), "healthy_threshold_ms")
}

func TestValidateWorker_RejectsMissingExecutable(t *testing.T) {
	w := Defaults().Worker
	w.Executable = ""
	require.Error(t, ValidateWorker(w))
}

func TestValidateWorker_RejectsNonPositiveMaxWorkers(t *testing.T) {
	w := Defaults().Worker
	w.MaxWorkers = 0
	require.Error(t, ValidateWorker(w))
}

func TestValidateSpawnQueue_RejectsSoftAboveHard(t *testing.T) {
	s := Defaults().SpawnQueue
	s.SoftLimit = s.HardLimit + 1
	err := ValidateSpawnQueue(s)
	require.Error(t, err)
	require.Contains(t, err.Error(), "soft_limit")
}

func TestValidateSpawnQueue_RejectsNonPositiveInterval(t *testing.T) {
	s := Defaults().SpawnQueue
	s.ProcessIntervalMs = 0
	require.Error(t, ValidateSpawnQueue(s))
}

func TestValidateWorkflow_RejectsNonPositiveConcurrency(t *testing.T) {
	w := Defaults().Workflow
	w.MaxConcurrentSteps = 0
	require.Error(t, ValidateWorkflow(w))
}

func TestDefaultConfigTemplateIsNonEmpty(t *testing.T) {
	require.Contains(t, DefaultConfigTemplate(), "database_path")
	require.Contains(t, DefaultConfigTemplate(), "listen_addr")
}
