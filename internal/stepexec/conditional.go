package stepexec

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oakfield/runengine/internal/workflow"
)

const conditionalSystemPrompt = `You evaluate a condition against the previous step's result data for a
browser automation run. Respond with strict JSON: {"evaluated_to": bool, "reason": "..."}.`

// aiConditional asks the AI client to evaluate the condition against the
// previous step's result.
func (e *Executor) aiConditional(ctx context.Context, step *workflow.Step, prevResult map[string]any) (map[string]any, error) {
	condition := conditionOf(step)
	prevJSON, _ := json.Marshal(prevResult)
	prompt := fmt.Sprintf("Condition to evaluate: %s\n\nPrevious step result data:\n%s", condition, string(prevJSON))

	raw, err := e.AI.InvokeText(ctx, prompt, conditionalSystemPrompt, 256)
	if err != nil {
		return nil, err
	}
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var parsed struct {
		EvaluatedTo bool   `json:"evaluated_to"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &parsed); err != nil {
		return nil, err
	}

	branch := "continue"
	if !parsed.EvaluatedTo {
		branch = "skip_next"
	}
	return map[string]any{
		"expression":   condition,
		"evaluated_to": parsed.EvaluatedTo,
		"branch_taken": branch,
		"reason":       parsed.Reason,
	}, nil
}

// knownDataKeys are the prior-result fields whose presence makes the rule
// fallback treat the data as meaningful.
var knownDataKeys = []string{"content", "items_extracted", "products", "articles", "profiles", "results", "posts", "tables"}

var comparisonRe = regexp.MustCompile(`(-?\d+(\.\d+)?)\s*([<>])\s*(-?\d+(\.\d+)?)`)

// evaluateConditionRules is the browser backend's deterministic fallback
// for the conditional action when no AI client is available or the AI path
// fails (without a browser session, conditional goes to the AI client and
// then to the simulation backend, not to these rules): it checks
// for a known data key, parses a literal "N < M" / "N > M" comparison
// inside the condition text, and otherwise defaults to true.
func evaluateConditionRules(step *workflow.Step, prevResult map[string]any) map[string]any {
	condition := conditionOf(step)
	evaluated := true

	hasKnownKey := false
	for _, key := range knownDataKeys {
		if _, ok := prevResult[key]; ok {
			hasKnownKey = true
			break
		}
	}

	if hasKnownKey {
		if m := comparisonRe.FindStringSubmatch(condition); m != nil {
			lhs, _ := strconv.ParseFloat(m[1], 64)
			rhs, _ := strconv.ParseFloat(m[4], 64)
			switch m[3] {
			case "<":
				evaluated = lhs < rhs
			case ">":
				evaluated = lhs > rhs
			}
		}
	}

	branch := "continue"
	if !evaluated {
		branch = "skip_next"
	}
	return map[string]any{
		"expression":   condition,
		"evaluated_to": evaluated,
		"branch_taken": branch,
	}
}

func conditionOf(step *workflow.Step) string {
	if step.Condition != "" {
		return step.Condition
	}
	if step.Target != "" {
		return step.Target
	}
	return "true"
}
