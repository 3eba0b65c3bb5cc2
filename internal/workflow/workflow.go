// Package workflow defines the Workflow/Step data model the run engine
// operates on: the persisted step program a user writes, and the per-run
// records the engine mutates while executing it.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of operation a step performs.
type Action string

const (
	ActionNavigate    Action = "navigate"
	ActionClick       Action = "click"
	ActionType        Action = "type"
	ActionExtract     Action = "extract"
	ActionWait        Action = "wait"
	ActionConditional Action = "conditional"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNavigate, ActionClick, ActionType, ActionExtract, ActionWait, ActionConditional:
		return true
	}
	return false
}

// TriggerKind identifies how a Workflow's runs are started.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerWebhook   TriggerKind = "webhook"
)

// Status is a Workflow's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Variable is a workflow-level value, optionally marked secret so callers
// can redact it from logs and UI.
type Variable struct {
	Value  string `json:"value"`
	Secret bool   `json:"secret,omitempty"`
}

// StepDefinition is the template for a step, as saved on a Workflow. It is
// never mutated after the Workflow is created; self-heal only ever touches
// the per-run Step instance (see runengine's Open Question decision).
type StepDefinition struct {
	StepNumber  int    `json:"step_number"`
	Action      Action `json:"action"`
	Target      string `json:"target"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description"`
	Condition   string `json:"condition,omitempty"`
}

// Validate checks the structural invariants a workflow save must enforce.
func (d StepDefinition) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("step %d: unknown action %q", d.StepNumber, d.Action)
	}
	if d.Action == ActionConditional && d.Condition == "" {
		return fmt.Errorf("step %d: conditional step requires a condition", d.StepNumber)
	}
	if (d.Action == ActionNavigate || d.Action == ActionClick || d.Action == ActionType || d.Action == ActionExtract) && d.Target == "" {
		return fmt.Errorf("step %d: %s requires a target", d.StepNumber, d.Action)
	}
	return nil
}

// Workflow is the input to the engine: an ordered step program owned by a
// user, with a variable map and a trigger descriptor.
type Workflow struct {
	ID           string
	Owner        string
	Name         string
	Steps        []StepDefinition
	Variables    map[string]Variable
	Trigger      TriggerKind
	ScheduleCron string
	Status       Status
}

// Validate checks step numbering and per-step validity. Step numbers must
// be unique and the set must be non-empty for a workflow to be runnable.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s: has no steps", w.ID)
	}
	seen := make(map[int]bool, len(w.Steps))
	for _, s := range w.Steps {
		if seen[s.StepNumber] {
			return fmt.Errorf("workflow %s: duplicate step_number %d", w.ID, s.StepNumber)
		}
		seen[s.StepNumber] = true
		if err := s.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}
	}
	if w.Trigger == TriggerScheduled && w.ScheduleCron == "" {
		return fmt.Errorf("workflow %s: scheduled trigger requires schedule_cron", w.ID)
	}
	return nil
}

// RunStatus is a Run's lifecycle state.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is one of the Run's terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Run is one execution of a Workflow. It is created and mutated only by
// the Run Engine that owns it.
type Run struct {
	ID             string
	WorkflowID     string
	Status         RunStatus
	Trigger        TriggerKind
	TotalSteps     int
	CompletedSteps int
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// NewRun creates a pending Run for workflow w with the given trigger.
func NewRun(w *Workflow, trigger TriggerKind) *Run {
	return &Run{
		ID:         uuid.NewString(),
		WorkflowID: w.ID,
		Status:     RunPending,
		Trigger:    trigger,
		TotalSteps: len(w.Steps),
	}
}

// StepStatus is a Step instance's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// CountsAsCompleted reports whether s counts toward the Run's
// completed_steps total (completed or skipped).
func (s StepStatus) CountsAsCompleted() bool {
	return s == StepCompleted || s == StepSkipped
}

// Step is the per-run instance of a StepDefinition, after variable
// interpolation. It is mutated only by the Run Engine that owns the Run.
type Step struct {
	ID          string
	RunID       string
	StepNumber  int
	Action      Action
	Target      string
	Value       string
	Description string
	Condition   string

	Status       StepStatus
	ResultData   map[string]any
	Screenshot   []byte
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// NewStep builds a pending Step instance from an (already interpolated)
// step definition.
func NewStep(runID string, d StepDefinition) *Step {
	return &Step{
		ID:          uuid.NewString(),
		RunID:       runID,
		StepNumber:  d.StepNumber,
		Action:      d.Action,
		Target:      d.Target,
		Value:       d.Value,
		Description: d.Description,
		Condition:   d.Condition,
		Status:      StepPending,
	}
}

// ApplyHeal mutates this Step instance's target/value with a self-heal
// fix. It never touches the owning Workflow's StepDefinition.
func (s *Step) ApplyHeal(fixedTarget, fixedValue string) {
	if fixedTarget != "" {
		s.Target = fixedTarget
	}
	if fixedValue != "" {
		s.Value = fixedValue
	}
}
