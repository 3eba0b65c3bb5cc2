package stepexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oakfield/runengine/internal/workflow"
)

const aiExtractSystemPrompt = `You generate realistic, detailed structured JSON data that would be
extracted from the described page. Return ONLY valid JSON, no prose.`

// executeAI is backend tier (2): used only for extract and conditional
// when no browser session is available.
func (e *Executor) executeAI(ctx context.Context, step *workflow.Step, prevResult map[string]any) (map[string]any, error) {
	switch step.Action {
	case workflow.ActionExtract:
		return e.aiExtract(ctx, step, prevResult)
	case workflow.ActionConditional:
		return e.aiConditional(ctx, step, prevResult)
	default:
		return nil, fmt.Errorf("stepexec: AI backend not supported for action %q", step.Action)
	}
}

func (e *Executor) aiExtract(ctx context.Context, step *workflow.Step, prevResult map[string]any) (map[string]any, error) {
	prevJSON, _ := json.Marshal(prevResult)
	prompt := fmt.Sprintf(
		"Current step: Extract data\nDescription: %s\nTarget: %s\nPrevious step result: %s",
		step.Description, step.Target, string(prevJSON),
	)
	raw, err := e.AI.InvokeText(ctx, prompt, aiExtractSystemPrompt, 2048)
	if err != nil {
		return nil, err
	}
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var result map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &result); err != nil {
		return nil, fmt.Errorf("stepexec: ai extract: invalid JSON: %w", err)
	}
	return result, nil
}
