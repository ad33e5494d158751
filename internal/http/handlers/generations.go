package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"studio/internal/domain"
	"studio/internal/generation"
	"studio/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type generationResponse struct {
	Target    string                `json:"target"`
	State     generation.State      `json:"state"`
	Job       *domain.GenerationJob `json:"job,omitempty"`
	Error     *errorBody            `json:"error,omitempty"`
	UpdatedAt *time.Time            `json:"updated_at,omitempty"`
}

func (a *App) toResponse(r *http.Request, u generation.Update) generationResponse {
	resp := generationResponse{Target: u.Target, State: u.State, Job: u.Job}
	if !u.At.IsZero() {
		at := u.At.UTC()
		resp.UpdatedAt = &at
	}
	if u.Err != nil {
		resp.Error = &errorBody{
			Code:    updateErrorCode(u.Err),
			Message: generation.UserMessage(u.Err, middleware.LocaleFromContext(r.Context())),
		}
	}
	return resp
}

func updateErrorCode(err error) string {
	var (
		failed  *domain.JobFailedError
		timeout *domain.TimeoutError
		sub     *domain.SubmissionError
	)
	switch {
	case errors.As(err, &failed):
		return failed.Code
	case errors.As(err, &timeout):
		return "timed_out"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.As(err, &sub):
		return "submission_" + string(sub.Reason)
	default:
		return "generation_failed"
	}
}

// controllerFor resolves the caller's controller and the target URL param.
func (a *App) controllerFor(w http.ResponseWriter, r *http.Request) (*generation.Controller, string, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, "", false
	}
	target := strings.TrimSpace(chi.URLParam(r, "target"))
	if target == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "target is required")
		return nil, "", false
	}
	if a.Controllers == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "generation is not configured")
		return nil, "", false
	}
	ctrl, err := a.Controllers.ForUser(userID)
	if err != nil {
		a.fail(w, r, err)
		return nil, "", false
	}
	return ctrl, target, true
}

// Generate submits a job for the target and answers with the state reached
// once submission settled: queued on the remote path, or the simulated
// pending job when the service could not take it.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	ctrl, target, ok := a.controllerFor(w, r)
	if !ok {
		return
	}
	var in domain.InputRefs
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	kind, valid := domain.ParseJobKind(string(in.Kind))
	if !valid {
		a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unsupported kind %q", in.Kind))
		return
	}
	in.Kind = kind
	if a.Config != nil {
		for idx, ref := range in.Artifacts {
			if !a.Config.AllowsArtifact(ref.URL) {
				a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("input %d points at a host that is not allowed", idx))
				return
			}
		}
	}

	// Submission must outlive a client that hangs up mid-request.
	ctx := context.WithoutCancel(r.Context())
	if _, err := ctrl.Generate(ctx, target, in); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, a.toResponse(r, ctrl.State(target)))
}

func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	ctrl, target, ok := a.controllerFor(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, a.toResponse(r, ctrl.State(target)))
}

// CancelGeneration stops polling without publishing a transition.
func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	ctrl, target, ok := a.controllerFor(w, r)
	if !ok {
		return
	}
	ctrl.Cancel(target)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ResetGeneration(w http.ResponseWriter, r *http.Request) {
	ctrl, target, ok := a.controllerFor(w, r)
	if !ok {
		return
	}
	ctrl.Reset(target)
	a.json(w, http.StatusOK, a.toResponse(r, ctrl.State(target)))
}

// ReconcileGeneration asks the service once more about a timed out job.
func (a *App) ReconcileGeneration(w http.ResponseWriter, r *http.Request) {
	ctrl, target, ok := a.controllerFor(w, r)
	if !ok {
		return
	}
	update, err := ctrl.ReconcileTimedOut(r.Context(), target)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.toResponse(r, update))
}

// ListGenerations returns the latest update of every target the caller
// touched since the process started.
func (a *App) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	items := []generationResponse{}
	if a.Board != nil {
		for _, u := range a.Board.Recent(userID) {
			items = append(items, a.toResponse(r, u))
		}
	}
	a.json(w, http.StatusOK, map[string]any{"generations": items})
}
