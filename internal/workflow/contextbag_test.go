package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/coordinator/internal/model"
)

func TestBuildContext_IncludesExecutionHeaderAndCurrentStep(t *testing.T) {
	exec := &model.WorkflowExecution{
		ID:      "exec-1",
		SwarmID: "swarm-1",
		Status:  model.ExecRunning,
		Context: map[string]any{"inputValue": 42},
	}
	bag := buildContext(exec, nil, "build")

	require.Equal(t, 42, bag["inputValue"])
	require.Equal(t, "build", bag["currentStep"])

	execHeader, ok := bag["execution"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "exec-1", execHeader["id"])
	require.Equal(t, "running", execHeader["status"])
	require.Equal(t, "swarm-1", execHeader["swarmId"])
}

func TestBuildContext_OnlyCompletedAndSkippedStepsAreExposed(t *testing.T) {
	exec := &model.WorkflowExecution{ID: "exec-1", Context: map[string]any{}}
	steps := []*model.WorkflowStep{
		{StepKey: "build", Status: model.StepCompleted, Output: map[string]any{"code": 0.0}},
		{StepKey: "skipped-gate", Status: model.StepSkipped, Output: nil},
		{StepKey: "still-running", Status: model.StepRunning, Output: map[string]any{"ignored": true}},
	}
	bag := buildContext(exec, steps, "deploy")

	stepsBag, ok := bag["steps"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, stepsBag, "build")
	require.Contains(t, stepsBag, "skipped-gate")
	require.NotContains(t, stepsBag, "still-running")

	build, ok := stepsBag["build"].(map[string]any)
	require.True(t, ok)
	output, ok := build["output"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 0.0, output["code"])
}

func TestBuildContext_NilOutputBecomesEmptyMap(t *testing.T) {
	exec := &model.WorkflowExecution{ID: "exec-1", Context: map[string]any{}}
	steps := []*model.WorkflowStep{
		{StepKey: "gate", Status: model.StepSkipped, Output: nil},
	}
	bag := buildContext(exec, steps, "")
	stepsBag := bag["steps"].(map[string]any)
	gate := stepsBag["gate"].(map[string]any)
	require.Equal(t, map[string]any{}, gate["output"])
}

func TestResolveTemplate_SubstitutesDottedPaths(t *testing.T) {
	ctx := map[string]any{
		"steps": map[string]any{
			"build": map[string]any{"output": map[string]any{"artifact": "app.bin"}},
		},
	}
	got := resolveTemplate("deploy {{steps.build.output.artifact}} now", ctx)
	require.Equal(t, "deploy app.bin now", got)
}

func TestResolveTemplate_UnresolvablePathBecomesEmptyString(t *testing.T) {
	ctx := map[string]any{}
	got := resolveTemplate("value: [{{steps.missing.output.x}}]", ctx)
	require.Equal(t, "value: []", got)
}

func TestResolveTemplate_MultipleVariablesInOneString(t *testing.T) {
	ctx := map[string]any{"a": "1", "b": "2"}
	got := resolveTemplate("{{a}}-{{b}}", ctx)
	require.Equal(t, "1-2", got)
}
