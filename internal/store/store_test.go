package store

import (
	"context"
	"testing"

	"github.com/oakfield/runengine/internal/workflow"
)

func TestMemoryStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	w := &workflow.Workflow{ID: "wf1", Steps: []workflow.StepDefinition{{StepNumber: 1, Action: workflow.ActionNavigate, Target: "https://example.com"}}}
	s.PutWorkflow(w)

	got, err := s.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.ID != "wf1" {
		t.Fatalf("got workflow %q", got.ID)
	}

	r := workflow.NewRun(w, workflow.TriggerManual)
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	r.Status = workflow.RunRunning
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	fetched, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if fetched.Status != workflow.RunRunning {
		t.Fatalf("status = %s, want running", fetched.Status)
	}
}

func TestMemoryStoreMutationIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	w := &workflow.Workflow{ID: "wf1", Steps: []workflow.StepDefinition{{StepNumber: 1, Action: workflow.ActionNavigate, Target: "x"}}}
	s.PutWorkflow(w)

	got, _ := s.GetWorkflow(ctx, "wf1")
	got.Name = "mutated"
	got.Steps[0].Target = "mutated"

	again, _ := s.GetWorkflow(ctx, "wf1")
	if again.Name == "mutated" || again.Steps[0].Target == "mutated" {
		t.Fatal("mutating a returned workflow leaked into the store")
	}
}

func TestMemoryStoreListScheduledWorkflows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutWorkflow(&workflow.Workflow{ID: "manual", Status: workflow.StatusActive, Trigger: workflow.TriggerManual})
	s.PutWorkflow(&workflow.Workflow{ID: "sched", Status: workflow.StatusActive, Trigger: workflow.TriggerScheduled, ScheduleCron: "0 9 * * *"})
	s.PutWorkflow(&workflow.Workflow{ID: "paused-sched", Status: workflow.StatusPaused, Trigger: workflow.TriggerScheduled, ScheduleCron: "0 9 * * *"})

	got, err := s.ListScheduledWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListScheduledWorkflows: %v", err)
	}
	if len(got) != 1 || got[0].ID != "sched" {
		t.Fatalf("got %+v, want exactly [sched]", got)
	}
}

func TestMemoryStoreStepsOrderedByInsertion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 1; i <= 3; i++ {
		st := workflow.NewStep("run1", workflow.StepDefinition{StepNumber: i, Action: workflow.ActionWait})
		if err := s.CreateStep(ctx, st); err != nil {
			t.Fatalf("CreateStep: %v", err)
		}
	}
	steps, err := s.ListSteps(ctx, "run1")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	for i, st := range steps {
		if st.StepNumber != i+1 {
			t.Fatalf("step %d has number %d", i, st.StepNumber)
		}
	}
}
