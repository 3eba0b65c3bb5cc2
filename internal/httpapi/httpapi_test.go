package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oakfield/runengine/internal/browser"
	"github.com/oakfield/runengine/internal/eventbus"
	"github.com/oakfield/runengine/internal/resolution"
	"github.com/oakfield/runengine/internal/workflow"
)

type fakeEngine struct {
	startRunID   string
	startRunErr  error
	abortedRunID string
	resolveErr   error
	resolveCalls []resolution.Decision
	session      *browser.Session
	hasSession   bool
}

func (f *fakeEngine) StartRun(ctx context.Context, workflowID string, trigger workflow.TriggerKind) (string, error) {
	return f.startRunID, f.startRunErr
}

func (f *fakeEngine) AbortRun(runID string) { f.abortedRunID = runID }

func (f *fakeEngine) ResolveStep(runID, stepID string, decision resolution.Decision) error {
	f.resolveCalls = append(f.resolveCalls, decision)
	return f.resolveErr
}

func (f *fakeEngine) SessionFor(runID string) (*browser.Session, bool) {
	return f.session, f.hasSession
}

func TestHandleStartRunReturnsRunID(t *testing.T) {
	engine := &fakeEngine{startRunID: "run-123"}
	h := NewHandler(Config{Engine: engine, Bus: eventbus.New()})

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"workflow_id":"wf1"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["run_id"] != "run-123" {
		t.Fatalf("run_id = %q, want run-123", resp["run_id"])
	}
}

func TestHandleStartRunRejectsMissingWorkflowID(t *testing.T) {
	engine := &fakeEngine{}
	h := NewHandler(Config{Engine: engine, Bus: eventbus.New()})

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleResolveStepRejectsAbortDecision(t *testing.T) {
	engine := &fakeEngine{}
	h := NewHandler(Config{Engine: engine, Bus: eventbus.New()})

	req := httptest.NewRequest(http.MethodPost, "/runs/run1/resolve", strings.NewReader(`{"step_id":"s1","decision":"abort"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (abort is not a valid resolve_step decision)", rec.Code, http.StatusBadRequest)
	}
	if len(engine.resolveCalls) != 0 {
		t.Fatal("ResolveStep should not have been called")
	}
}

func TestHandleResolveStepForwardsRetry(t *testing.T) {
	engine := &fakeEngine{}
	h := NewHandler(Config{Engine: engine, Bus: eventbus.New()})

	req := httptest.NewRequest(http.MethodPost, "/runs/run1/resolve", strings.NewReader(`{"step_id":"s1","decision":"retry"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if len(engine.resolveCalls) != 1 || engine.resolveCalls[0] != resolution.Retry {
		t.Fatalf("resolveCalls = %v, want [retry]", engine.resolveCalls)
	}
}

func TestHandleAbortRunCallsEngine(t *testing.T) {
	engine := &fakeEngine{}
	h := NewHandler(Config{Engine: engine, Bus: eventbus.New()})

	req := httptest.NewRequest(http.MethodPost, "/runs/run1/abort", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if engine.abortedRunID != "run1" {
		t.Fatalf("abortedRunID = %q, want run1", engine.abortedRunID)
	}
}

func TestHandleLiveEventsStreamsPublishedEvents(t *testing.T) {
	bus := eventbus.New()
	h := NewHandler(Config{Engine: &fakeEngine{}, Bus: bus})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/runs/run1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler time to subscribe before publishing, since Publish
	// is a no-op with no subscribers yet.
	time.Sleep(20 * time.Millisecond)
	bus.Publish("run1", eventbus.RunCompleted, map[string]any{"run_id": "run1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after a terminal event")
	}

	if !strings.Contains(rec.Body.String(), `"type":"run_completed"`) {
		t.Fatalf("body = %q, want it to contain the run_completed event", rec.Body.String())
	}
}
