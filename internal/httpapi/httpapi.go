// Package httpapi is the run-control HTTP surface: start_run, live_events
// (SSE), live_screen (JPEG frame stream), resolve_step, and abort_run.
// Nothing else lives here — auth, workflow CRUD, and any dashboard UI are
// other services' concerns.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/oakfield/runengine/internal/browser"
	"github.com/oakfield/runengine/internal/eventbus"
	"github.com/oakfield/runengine/internal/resolution"
	"github.com/oakfield/runengine/internal/workflow"
)

// heartbeatIdle is the SSE idle window after which live_events emits a
// synthetic heartbeat even with nothing new to report. This is distinct
// from internal/eventbus's drop-compensation heartbeat, which fires only
// on a full queue.
const heartbeatIdle = 30 * time.Second

// screenFrameInterval and waitingFrameInterval are the two live_screen
// cadences: ~3fps while a Browser Session exists, 1Hz `{status: waiting}`
// frames otherwise.
const (
	screenFrameInterval  = 333 * time.Millisecond
	waitingFrameInterval = time.Second
)

// RunEngine is the subset of *runengine.Engine the HTTP surface drives.
type RunEngine interface {
	StartRun(ctx context.Context, workflowID string, trigger workflow.TriggerKind) (string, error)
	AbortRun(runID string)
	ResolveStep(runID, stepID string, decision resolution.Decision) error
	SessionFor(runID string) (*browser.Session, bool)
}

// Config wires the HTTP surface's dependencies.
type Config struct {
	Engine RunEngine
	Bus    *eventbus.Bus
	Logger *slog.Logger
}

// Handler is the run-control HTTP handler.
type Handler struct {
	cfg Config
	mux *http.ServeMux
}

// NewHandler constructs a Handler and registers its routes.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("POST /runs", h.handleStartRun)
	h.mux.HandleFunc("GET /runs/{run_id}/events", h.handleLiveEvents)
	h.mux.HandleFunc("GET /runs/{run_id}/screen", h.handleLiveScreen)
	h.mux.HandleFunc("POST /runs/{run_id}/resolve", h.handleResolveStep)
	h.mux.HandleFunc("POST /runs/{run_id}/abort", h.handleAbortRun)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type startRunRequest struct {
	WorkflowID string               `json:"workflow_id"`
	Trigger    workflow.TriggerKind `json:"trigger,omitempty"`
}

// handleStartRun is the `start_run` operation.
func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.WorkflowID) == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = workflow.TriggerManual
	}

	runID, err := h.cfg.Engine.StartRun(r.Context(), req.WorkflowID, trigger)
	if err != nil {
		h.cfg.Logger.Error("httpapi: start_run failed", "workflow_id", req.WorkflowID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

// handleLiveEvents is the `live_events` operation: an SSE stream of the
// run's progress events, each line `data: <json>\n\n`.
func (h *Handler) handleLiveEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.cfg.Bus.Subscribe(runID)
	defer sub.Close()

	idle := time.NewTimer(heartbeatIdle)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-sub.Events():
			writeSSE(w, ev)
			flusher.Flush()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(heartbeatIdle)
			if ev.Type == eventbus.RunCompleted || ev.Type == eventbus.RunFailed {
				return
			}
		case <-idle.C:
			writeSSE(w, eventbus.Event{Type: eventbus.Heartbeat, RunID: runID})
			flusher.Flush()
			idle.Reset(heartbeatIdle)
		}
	}
}

func writeSSE(w http.ResponseWriter, ev eventbus.Event) {
	payload := map[string]any{"type": ev.Type, "run_id": ev.RunID}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

// handleLiveScreen is the `live_screen` operation: a raw JPEG byte stream
// at ~3fps from the run's Browser Session, or `{status: waiting}` JSON
// frames at 1Hz when no Session exists.
func (h *Handler) handleLiveScreen(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session, hasSession := h.cfg.Engine.SessionFor(runID)
	if !hasSession {
		streamWaitingFrames(w, flusher, r)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(screenFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, err := captureJPEG(session)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
		}
	}
}

func streamWaitingFrames(w http.ResponseWriter, flusher http.Flusher, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	ticker := time.NewTicker(waitingFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintln(w, `{"status":"waiting"}`)
			flusher.Flush()
		}
	}
}

func captureJPEG(session *browser.Session) ([]byte, error) {
	raw, err := session.Page.Screenshot(playwright.PageScreenshotOptions{Type: playwright.ScreenshotTypeJpeg})
	if err != nil {
		return nil, err
	}
	if _, err := jpeg.Decode(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("httpapi: decode screenshot: %w", err)
	}
	return raw, nil
}

type resolveStepRequest struct {
	StepID   string              `json:"step_id"`
	Decision resolution.Decision `json:"decision"`
}

// handleResolveStep is the `resolve_step` operation. The wire decision
// set is {retry, skip}; abort is reached only via abort_run, not this
// endpoint.
func (h *Handler) handleResolveStep(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	var req resolveStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Decision != resolution.Retry && req.Decision != resolution.Skip {
		writeError(w, http.StatusBadRequest, "decision must be retry or skip")
		return
	}
	if err := h.cfg.Engine.ResolveStep(runID, req.StepID, req.Decision); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAbortRun is the `abort_run` operation.
func (h *Handler) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	h.cfg.Engine.AbortRun(runID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
