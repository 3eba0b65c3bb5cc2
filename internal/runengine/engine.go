// Package runengine implements the per-run state machine: it drives a
// browser session through a step list, coordinates execution backends via
// internal/stepexec, multiplexes progress events through
// internal/eventbus, and recovers from step failures via self-heal then
// internal/resolution. Each run executes on its own goroutine with its
// own browser session; steps within a run are strictly sequential.
package runengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oakfield/runengine/internal/browser"
	"github.com/oakfield/runengine/internal/eventbus"
	"github.com/oakfield/runengine/internal/observability"
	"github.com/oakfield/runengine/internal/resolution"
	"github.com/oakfield/runengine/internal/stepexec"
	"github.com/oakfield/runengine/internal/store"
	"github.com/oakfield/runengine/internal/workflow"
)

// AI is the AI Client contract the engine and stepexec share: self-heal's
// fix-suggestion call needs only InvokeText, but the field is typed as
// stepexec.AI (InvokeText + InvokeVision) so the same *aiclient.Client the
// caller wires in can be passed straight through to stepexec.NewExecutor
// for the extract/conditional backend tier and the locator's vision
// fallback.
type AI = stepexec.AI

// BrowserPool is the subset of internal/browser.Pool the engine needs: one
// Session per Run, held for the Run's full lifetime.
type BrowserPool interface {
	Acquire(ctx context.Context) (*browser.Session, error)
	Release(s *browser.Session) error
}

// resolutionTimeout caps how long a failed, unheal-able step waits for an
// external decision before defaulting to abort.
const resolutionTimeout = resolution.DefaultTimeout

// Interpreter is the step-execution contract the engine drives.
// *stepexec.Executor satisfies it; tests substitute a fake to exercise the
// state machine without a real browser or model.
type Interpreter interface {
	Execute(ctx context.Context, step *workflow.Step, prevResult map[string]any) (stepexec.Result, error)
}

// Engine drives Runs to completion. One Engine instance serves all Runs
// in the process; each Run executes on its own goroutine with its own
// Browser Session.
type Engine struct {
	Store       store.Store
	Bus         *eventbus.Bus
	Broker      *resolution.Broker
	BrowserPool BrowserPool // nil => every Run runs in simulation mode
	AI          AI          // nil => no self-heal, no AI backend tier
	Log         *slog.Logger
	Metrics     *observability.Metrics // nil => no metrics recorded

	// NewInterpreter builds the per-run Step Interpreter. Defaults to
	// stepexec.NewExecutor; overridable in tests.
	NewInterpreter func(session *browser.Session, ai AI) Interpreter

	mu       sync.Mutex
	sessions map[string]*browser.Session // live session per run, read by the screen stream
	cancel   map[string]context.CancelFunc
}

// New constructs an Engine. log defaults to slog.Default() if nil. metrics
// may be nil, disabling metrics recording.
func New(st store.Store, bus *eventbus.Bus, broker *resolution.Broker, pool BrowserPool, ai AI, log *slog.Logger, metrics *observability.Metrics) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		Store:       st,
		Bus:         bus,
		Broker:      broker,
		BrowserPool: pool,
		AI:          ai,
		Log:         log,
		Metrics:     metrics,
		sessions:    make(map[string]*browser.Session),
		cancel:      make(map[string]context.CancelFunc),
	}
	e.NewInterpreter = func(session *browser.Session, ai AI) Interpreter {
		return stepexec.NewExecutor(session, ai).WithLocatorRecorder(e.Metrics)
	}
	return e
}

// CreateRun loads workflowID, validates it, interpolates variables into a
// fresh set of pending Step instances, and persists a pending Run. It does
// not execute the Run; callers drive execution with Execute (typically
// via StartRun, which does both).
func (e *Engine) CreateRun(ctx context.Context, workflowID string, trigger workflow.TriggerKind) (*workflow.Run, error) {
	wf, err := e.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("runengine: load workflow: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("runengine: invalid workflow: %w", err)
	}

	run := workflow.NewRun(wf, trigger)
	if err := e.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("runengine: create run: %w", err)
	}

	for _, def := range wf.Steps {
		interpolated := workflow.InterpolateStep(def, wf.Variables)
		step := workflow.NewStep(run.ID, interpolated)
		if err := e.Store.CreateStep(ctx, step); err != nil {
			return nil, fmt.Errorf("runengine: create step: %w", err)
		}
	}
	return run, nil
}

// StartRun creates the Run and launches its execution on a new goroutine,
// returning the run ID immediately.
func (e *Engine) StartRun(ctx context.Context, workflowID string, trigger workflow.TriggerKind) (string, error) {
	run, err := e.CreateRun(ctx, workflowID, trigger)
	if err != nil {
		return "", err
	}
	go func() {
		runCtx, cancel := context.WithCancel(context.Background())
		e.mu.Lock()
		e.cancel[run.ID] = cancel
		e.mu.Unlock()
		defer func() {
			e.mu.Lock()
			delete(e.cancel, run.ID)
			e.mu.Unlock()
			cancel()
		}()
		if err := e.Execute(runCtx, run.ID); err != nil {
			e.Log.Error("run execution failed", "run_id", run.ID, "error", err)
		}
	}()
	return run.ID, nil
}

// AbortRun cancels the run's execution context and unblocks any
// resolution-broker waiter for it. An operator abort transitions the Run
// to `cancelled`, distinct from a resolution decision of `abort` which
// fails the run.
func (e *Engine) AbortRun(runID string) {
	e.mu.Lock()
	cancel, ok := e.cancel[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	e.Broker.AbortRun(runID)
}

// ResolveStep delivers an external decision to a step blocked on the
// resolution broker.
func (e *Engine) ResolveStep(runID, stepID string, decision resolution.Decision) error {
	return e.Broker.Resolve(runID, stepID, decision)
}

// SessionFor returns the live Browser Session for runID, if one exists.
// Read by the screen-streaming HTTP handler concurrently with the owning
// run's writes.
func (e *Engine) SessionFor(runID string) (*browser.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[runID]
	return s, ok
}

// Execute runs runID's full step loop to a terminal state, blocking until
// it completes, fails, or is cancelled.
func (e *Engine) Execute(ctx context.Context, runID string) error {
	run, err := e.Store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("runengine: load run: %w", err)
	}
	steps, err := e.Store.ListSteps(ctx, runID)
	if err != nil {
		return fmt.Errorf("runengine: load steps: %w", err)
	}

	session, mode := e.acquireSession(ctx, runID)
	defer e.releaseSession(runID, session)

	now := time.Now()
	run.Status = workflow.RunRunning
	run.StartedAt = &now
	if err := e.Store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("runengine: mark run running: %w", err)
	}
	e.Bus.Publish(runID, eventbus.RunStarted, map[string]any{
		"run_id":      runID,
		"total_steps": run.TotalSteps,
		"mode":        mode,
	})

	executor := e.NewInterpreter(session, e.AI)

	var (
		prevResult      map[string]any
		skipNextPending bool
		runFailed       bool
	)

	stopped := -1
	for i, step := range steps {
		if ctx.Err() != nil {
			run.Status = workflow.RunCancelled
			stopped = i
			break
		}

		if skipNextPending {
			skipNextPending = false
			e.markSkipped(ctx, step, "conditional_branch_false")
			continue
		}

		result, _, _, err := e.runStepWithRecovery(ctx, runID, step, executor, prevResult, mode)
		if err != nil {
			stopped = i
			if errIsCancelled(err) {
				run.Status = workflow.RunCancelled
			} else {
				runFailed = true
			}
			break
		}

		prevResult = result.Data

		if step.Action == workflow.ActionConditional {
			if branch, _ := result.Data["branch_taken"].(string); branch == "skip_next" {
				skipNextPending = true
			} else if evaluated, ok := result.Data["evaluated_to"].(bool); ok && !evaluated {
				skipNextPending = true
			}
		}
	}

	// A Run that terminates early (cancel or unrecovered failure) leaves
	// later steps in `pending`; every Step must reach a terminal state
	// once the Run does, so anything never reached is closed out as
	// skipped.
	if stopped >= 0 {
		for _, step := range steps[stopped:] {
			if step.Status == workflow.StepPending {
				e.markSkipped(ctx, step, "")
			}
		}
	}

	// The counter is derived from the steps' terminal statuses in one
	// place, covering skipped tails the loop never reached.
	run.CompletedSteps = 0
	for _, step := range steps {
		if step.Status.CountsAsCompleted() {
			run.CompletedSteps++
		}
	}

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	switch {
	case run.Status == workflow.RunCancelled:
		// status already set above
	case runFailed:
		run.Status = workflow.RunFailed
	default:
		run.Status = workflow.RunCompleted
	}
	if err := e.Store.UpdateRun(ctx, run); err != nil {
		e.Log.Error("runengine: persist terminal run state", "run_id", runID, "error", err)
	}

	switch run.Status {
	case workflow.RunCompleted:
		e.Bus.Publish(runID, eventbus.RunCompleted, map[string]any{"run_id": runID})
	case workflow.RunFailed, workflow.RunCancelled:
		e.Bus.Publish(runID, eventbus.RunFailed, map[string]any{"run_id": runID})
	}
	e.Metrics.RunFinished(string(run.Trigger), string(run.Status))
	return nil
}

// cancelledErr sentinel lets runStepWithRecovery signal operator
// cancellation distinctly from an unrecovered step failure.
type cancelledErr struct{}

func (cancelledErr) Error() string { return "runengine: run cancelled" }

func errIsCancelled(err error) bool {
	_, ok := err.(cancelledErr)
	return ok
}

// runStepWithRecovery executes one step, persisting its running/terminal
// state and emitting step_started/step_completed/step_failed, then drives
// the self-heal-then-resolution recovery pipeline on failure (attemptHeal
// publishes step_healed itself). It returns the step's final successful
// result, whether a heal occurred, and the heal's explanation.
func (e *Engine) runStepWithRecovery(ctx context.Context, runID string, step *workflow.Step, executor Interpreter, prevResult map[string]any, mode string) (stepexec.Result, bool, string, error) {
	result, err := e.runStepOnce(ctx, runID, step, executor, prevResult, mode)
	if err == nil {
		return result, false, "", nil
	}

	step.Status = workflow.StepFailed
	step.ErrorMessage = err.Error()
	now := time.Now()
	step.CompletedAt = &now
	e.persistStep(ctx, step)
	e.Bus.Publish(runID, eventbus.StepFailed, map[string]any{
		"run_id":      runID,
		"step_id":     step.ID,
		"step_number": step.StepNumber,
		"error":       err.Error(),
	})
	e.Metrics.StepExecuted(string(step.Action), "failed")

	if healedResult, fix, healErr := e.attemptHeal(ctx, runID, step, executor, prevResult, mode); healErr == nil {
		return healedResult, true, fix, nil
	}

	decision, _ := e.Broker.Wait(ctx, runID, step.ID, resolutionTimeout)
	// AbortRun cancels ctx and also aborts the broker waiter; whichever of
	// the two Wait observes first, a cancelled context means an operator
	// abort, not a failed step.
	if ctx.Err() != nil {
		return stepexec.Result{}, false, "", cancelledErr{}
	}

	switch decision {
	case resolution.Retry:
		retryResult, retryErr := e.runStepOnce(ctx, runID, step, executor, prevResult, mode)
		if retryErr == nil {
			return retryResult, false, "", nil
		}
		step.Status = workflow.StepFailed
		step.ErrorMessage = retryErr.Error()
		retryDone := time.Now()
		step.CompletedAt = &retryDone
		e.persistStep(ctx, step)
		e.Bus.Publish(runID, eventbus.StepFailed, map[string]any{
			"run_id": runID, "step_id": step.ID, "step_number": step.StepNumber, "error": retryErr.Error(),
		})
		e.Metrics.StepExecuted(string(step.Action), "failed")
		return stepexec.Result{}, false, "", retryErr
	case resolution.Skip:
		e.markSkipped(ctx, step, "")
		return stepexec.Result{Data: map[string]any{"skipped": true}}, false, "", nil
	default: // resolution.Abort, including the 5-minute timeout default
		return stepexec.Result{}, false, "", fmt.Errorf("runengine: step %s aborted: %w", step.ID, err)
	}
}

// runStepOnce marks step running, executes it, and on success marks it
// completed with its result and best-effort screenshot persisted.
func (e *Engine) runStepOnce(ctx context.Context, runID string, step *workflow.Step, executor Interpreter, prevResult map[string]any, mode string) (stepexec.Result, error) {
	started := time.Now()
	step.Status = workflow.StepRunning
	step.StartedAt = &started
	step.ErrorMessage = ""
	e.persistStep(ctx, step)
	e.Bus.Publish(runID, eventbus.StepStarted, map[string]any{
		"run_id":      runID,
		"step_id":     step.ID,
		"step_number": step.StepNumber,
		"action":      string(step.Action),
		"description": step.Description,
		"mode":        mode,
	})

	result, err := executor.Execute(ctx, step, prevResult)
	if err != nil {
		return stepexec.Result{}, err
	}

	completed := time.Now()
	step.Status = workflow.StepCompleted
	step.ResultData = result.Data
	step.Screenshot = result.Screenshot
	step.CompletedAt = &completed
	e.persistStep(ctx, step)

	payload := map[string]any{
		"run_id":      runID,
		"step_id":     step.ID,
		"step_number": step.StepNumber,
		"result":      result.Data,
	}
	if len(result.Screenshot) > 0 {
		payload["screenshot_b64"] = encodeScreenshot(result.Screenshot)
	}
	e.Bus.Publish(runID, eventbus.StepCompleted, payload)
	e.Metrics.StepExecuted(string(step.Action), "completed")
	return result, nil
}

// markSkipped transitions step to skipped and persists/emits it, for both
// conditional branches and the skip resolution decision.
func (e *Engine) markSkipped(ctx context.Context, step *workflow.Step, reason string) {
	now := time.Now()
	step.Status = workflow.StepSkipped
	step.CompletedAt = &now
	e.persistStep(ctx, step)
	payload := map[string]any{
		"run_id":      step.RunID,
		"step_id":     step.ID,
		"step_number": step.StepNumber,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	e.Bus.Publish(step.RunID, eventbus.StepSkipped, payload)
	e.Metrics.StepExecuted(string(step.Action), "skipped")
}

func (e *Engine) persistStep(ctx context.Context, step *workflow.Step) {
	if err := e.Store.UpdateStep(ctx, step); err != nil {
		e.Log.Error("runengine: persist step", "step_id", step.ID, "error", err)
	}
}

func (e *Engine) acquireSession(ctx context.Context, runID string) (*browser.Session, string) {
	if e.BrowserPool == nil {
		return nil, "simulation"
	}
	session, err := e.BrowserPool.Acquire(ctx)
	if err != nil {
		e.Log.Warn("runengine: browser unavailable, running in simulation mode", "run_id", runID, "error", err)
		return nil, "simulation"
	}
	e.mu.Lock()
	e.sessions[runID] = session
	e.mu.Unlock()
	return session, "browser"
}

func (e *Engine) releaseSession(runID string, session *browser.Session) {
	e.mu.Lock()
	delete(e.sessions, runID)
	e.mu.Unlock()
	if session == nil || e.BrowserPool == nil {
		return
	}
	if err := e.BrowserPool.Release(session); err != nil {
		e.Log.Error("runengine: release session", "run_id", runID, "error", err)
	}
}

// healFix is the self-heal model response shape.
type healFix struct {
	FixedTarget string `json:"fixed_target"`
	FixedValue  string `json:"fixed_value"`
	Explanation string `json:"explanation"`
}

const healSystemPrompt = `You diagnose a failed browser automation step and suggest a fix. Respond
with strict JSON: {"fixed_target": "...", "fixed_value": "...", "explanation": "..."}.
Omit fixed_target/fixed_value if you cannot suggest one.`

// attemptHeal asks the AI client for a target/value fix and, if one comes
// back, mutates the Step instance (never the Workflow's StepDefinition)
// and re-executes once.
func (e *Engine) attemptHeal(ctx context.Context, runID string, step *workflow.Step, executor Interpreter, prevResult map[string]any, mode string) (stepexec.Result, string, error) {
	if e.AI == nil {
		return stepexec.Result{}, "", fmt.Errorf("runengine: no AI client for self-heal")
	}

	prompt := fmt.Sprintf("action=%s\ntarget=%s\ndescription=%s\nerror=%s",
		step.Action, step.Target, step.Description, step.ErrorMessage)
	raw, err := e.AI.InvokeText(ctx, prompt, healSystemPrompt, 512)
	if err != nil {
		return stepexec.Result{}, "", fmt.Errorf("runengine: heal request: %w", err)
	}

	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var fix healFix
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &fix); err != nil {
		return stepexec.Result{}, "", fmt.Errorf("runengine: heal response invalid JSON: %w", err)
	}
	if fix.FixedTarget == "" && fix.FixedValue == "" {
		return stepexec.Result{}, "", fmt.Errorf("runengine: heal suggested no fix")
	}

	step.ApplyHeal(fix.FixedTarget, fix.FixedValue)
	// Emit step_healed before the retry's step_completed so a subscriber
	// sees the fix before the result it produced.
	e.Bus.Publish(runID, eventbus.StepHealed, map[string]any{
		"run_id":      runID,
		"step_id":     step.ID,
		"step_number": step.StepNumber,
		"fix": map[string]any{
			"target":      fix.FixedTarget,
			"value":       fix.FixedValue,
			"explanation": fix.Explanation,
		},
	})
	e.Metrics.StepExecuted(string(step.Action), "healed")

	result, err := e.runStepOnce(ctx, runID, step, executor, prevResult, mode)
	if err != nil {
		// runStepOnce persisted the step as running; put it back into
		// failed so the record stays terminal if the resolution that
		// follows ends in abort.
		step.Status = workflow.StepFailed
		step.ErrorMessage = err.Error()
		now := time.Now()
		step.CompletedAt = &now
		e.persistStep(ctx, step)
		e.Bus.Publish(runID, eventbus.StepFailed, map[string]any{
			"run_id": runID, "step_id": step.ID, "step_number": step.StepNumber, "error": err.Error(),
		})
		e.Metrics.StepExecuted(string(step.Action), "failed")
		return stepexec.Result{}, "", fmt.Errorf("runengine: heal retry failed: %w", err)
	}
	return result, fix.Explanation, nil
}

// encodeScreenshot base64-encodes a step's JPEG screenshot for the
// step_completed event payload.
func encodeScreenshot(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
