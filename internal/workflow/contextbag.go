package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fleetctl/coordinator/internal/model"
)

// buildContext assembles the context bag guard/script evaluation and
// template substitution run against: execution.context, a
// steps.<key>.output subtree from completed siblings, and an
// execution/currentStep header.
func buildContext(exec *model.WorkflowExecution, steps []*model.WorkflowStep, currentStepKey string) map[string]any {
	stepsBag := make(map[string]any, len(steps))
	for _, st := range steps {
		if st.Status != model.StepCompleted && st.Status != model.StepSkipped {
			continue
		}
		stepsBag[st.StepKey] = map[string]any{"output": toAnyMap(st.Output)}
	}

	bag := make(map[string]any, len(exec.Context)+2)
	for k, v := range exec.Context {
		bag[k] = v
	}
	bag["steps"] = stepsBag
	bag["execution"] = map[string]any{"id": exec.ID, "status": string(exec.Status), "swarmId": exec.SwarmID}
	bag["currentStep"] = currentStepKey
	return bag
}

func toAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var templateVar = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// resolveTemplate substitutes every `{{path}}` occurrence in s with its
// dotted-path value from ctx, stringified. Unresolvable paths are left
// as an empty string.
func resolveTemplate(s string, ctx map[string]any) string {
	return templateVar.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(templateVar.FindStringSubmatch(match)[1])
		v, ok := resolvePath(ctx, path)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}
