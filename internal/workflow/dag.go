package workflow

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/fleetctl/coordinator/internal/model"
)

// dagCache memoizes a definition's validated topological order, keyed by
// "<definitionId>@<version>", fronting the Kahn-order recomputation that
// would otherwise run on every startWorkflow call. Modeled on the
// teacher's cachemanager.NewInMemoryCacheManager BQL dependency-graph
// cache idiom (internal/cachemanager), generalized from an issue
// dependency graph to a workflow step DAG.
var dagCache = gocache.New(10*time.Minute, 20*time.Minute)

// topoOrder returns steps in a valid topological order (Kahn's
// algorithm), detecting cycles. The result is cached per definition
// id+version since a definition's shape is immutable once created.
func topoOrder(definitionID string, version int, steps []model.StepDefinition) ([]model.StepDefinition, error) {
	cacheKey := fmt.Sprintf("%s@%d", definitionID, version)
	if cached, ok := dagCache.Get(cacheKey); ok {
		return cached.([]model.StepDefinition), nil
	}

	order, err := kahnOrder(steps)
	if err != nil {
		return nil, err
	}
	dagCache.Set(cacheKey, order, gocache.DefaultExpiration)
	return order, nil
}

func kahnOrder(steps []model.StepDefinition) ([]model.StepDefinition, error) {
	byKey := make(map[string]model.StepDefinition, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, s := range steps {
		byKey[s.Key] = s
		indegree[s.Key] = len(s.DependsOn)
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byKey[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.Key, dep)
			}
			dependents[dep] = append(dependents[dep], s.Key)
		}
	}

	var queue []string
	for _, s := range steps {
		if indegree[s.Key] == 0 {
			queue = append(queue, s.Key)
		}
	}

	var order []model.StepDefinition
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		order = append(order, byKey[key])
		for _, dep := range dependents[key] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, fmt.Errorf("workflow definition contains a dependency cycle")
	}
	return order, nil
}
