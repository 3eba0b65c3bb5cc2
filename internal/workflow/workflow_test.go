package workflow

import "testing"

func TestWorkflowValidateRejectsDuplicateStepNumbers(t *testing.T) {
	w := &Workflow{
		ID: "wf1",
		Steps: []StepDefinition{
			{StepNumber: 1, Action: ActionNavigate, Target: "https://example.com"},
			{StepNumber: 1, Action: ActionClick, Target: "submit"},
		},
	}
	if err := w.Validate(); err == nil {
		t.Fatal("expected error for duplicate step_number, got nil")
	}
}

func TestWorkflowValidateRejectsScheduledWithoutCron(t *testing.T) {
	w := &Workflow{
		ID:      "wf1",
		Trigger: TriggerScheduled,
		Steps: []StepDefinition{
			{StepNumber: 1, Action: ActionNavigate, Target: "https://example.com"},
		},
	}
	if err := w.Validate(); err == nil {
		t.Fatal("expected error for scheduled trigger without cron, got nil")
	}
}

func TestWorkflowValidateAcceptsWellFormedWorkflow(t *testing.T) {
	w := &Workflow{
		ID: "wf1",
		Steps: []StepDefinition{
			{StepNumber: 1, Action: ActionNavigate, Target: "https://example.com"},
			{StepNumber: 2, Action: ActionConditional, Condition: "5 > 10"},
		},
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStepStatusCountsAsCompleted(t *testing.T) {
	cases := map[StepStatus]bool{
		StepCompleted: true,
		StepSkipped:   true,
		StepFailed:    false,
		StepPending:   false,
		StepRunning:   false,
	}
	for status, want := range cases {
		if got := status.CountsAsCompleted(); got != want {
			t.Errorf("%s.CountsAsCompleted() = %v, want %v", status, got, want)
		}
	}
}

func TestApplyHealDoesNotTouchDefinition(t *testing.T) {
	d := StepDefinition{StepNumber: 1, Action: ActionClick, Target: "old button"}
	s := NewStep("run1", d)
	s.ApplyHeal("Submit", "")
	if s.Target != "Submit" {
		t.Errorf("Step.Target = %q, want %q", s.Target, "Submit")
	}
	if d.Target != "old button" {
		t.Errorf("StepDefinition.Target mutated: %q", d.Target)
	}
}
