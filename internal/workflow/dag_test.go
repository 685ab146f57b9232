package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/coordinator/internal/model"
)

func TestTopoOrder_LinearChain(t *testing.T) {
	steps := []model.StepDefinition{
		{Key: "c", DependsOn: []string{"b"}},
		{Key: "a"},
		{Key: "b", DependsOn: []string{"a"}},
	}
	order, err := topoOrder("def-linear", 1, steps)
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[string]int, 3)
	for i, s := range order {
		pos[s.Key] = i
	}
	require.Less(t, pos["a"], pos["b"])
	require.Less(t, pos["b"], pos["c"])
}

func TestTopoOrder_DetectsCycle(t *testing.T) {
	steps := []model.StepDefinition{
		{Key: "a", DependsOn: []string{"b"}},
		{Key: "b", DependsOn: []string{"a"}},
	}
	_, err := topoOrder("def-cycle", 1, steps)
	require.Error(t, err)
}

func TestTopoOrder_RejectsUnknownDependency(t *testing.T) {
	steps := []model.StepDefinition{
		{Key: "a", DependsOn: []string{"ghost"}},
	}
	_, err := topoOrder("def-unknown-dep", 1, steps)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}

func TestTopoOrder_IsCachedByDefinitionIDAndVersion(t *testing.T) {
	steps := []model.StepDefinition{{Key: "a"}}
	first, err := topoOrder("def-cache", 1, steps)
	require.NoError(t, err)

	// Pass a completely different (invalid) step set under the same key;
	// a cache hit must return the first result rather than recomputing.
	cyclic := []model.StepDefinition{
		{Key: "x", DependsOn: []string{"y"}},
		{Key: "y", DependsOn: []string{"x"}},
	}
	second, err := topoOrder("def-cache", 1, cyclic)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestTopoOrder_DifferentVersionsAreNotCachedTogether(t *testing.T) {
	stepsV1 := []model.StepDefinition{{Key: "a"}}
	stepsV2 := []model.StepDefinition{{Key: "a"}, {Key: "b", DependsOn: []string{"a"}}}

	v1, err := topoOrder("def-versioned", 1, stepsV1)
	require.NoError(t, err)
	v2, err := topoOrder("def-versioned", 2, stepsV2)
	require.NoError(t, err)

	require.Len(t, v1, 1)
	require.Len(t, v2, 2)
}

func TestTopoOrder_DiamondDependency(t *testing.T) {
	steps := []model.StepDefinition{
		{Key: "start"},
		{Key: "left", DependsOn: []string{"start"}},
		{Key: "right", DependsOn: []string{"start"}},
		{Key: "end", DependsOn: []string{"left", "right"}},
	}
	order, err := topoOrder("def-diamond", 1, steps)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, 4)
	for i, s := range order {
		pos[s.Key] = i
	}
	require.Less(t, pos["start"], pos["left"])
	require.Less(t, pos["start"], pos["right"])
	require.Less(t, pos["left"], pos["end"])
	require.Less(t, pos["right"], pos["end"])
}
