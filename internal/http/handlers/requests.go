package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"promptbot/internal/dispatch"
	"promptbot/internal/domain"
	"promptbot/internal/middleware"
)

type submitRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
	Locale string `json:"locale"`
}

type submitResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// SubmitRequest admits a prompt for asynchronous generation.
func (a *App) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	locale := req.Locale
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}

	sub, err := a.Jobs.Submit(r.Context(), dispatch.Request{UserID: req.UserID, Prompt: req.Prompt, Locale: locale})
	switch {
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, http.StatusBadRequest, "invalid_prompt", err.Error())
		return
	case errors.Is(err, dispatch.ErrClosed):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "service is shutting down")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("user_id", req.UserID).Msg("submit request")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start job")
		return
	}

	if !sub.Admitted {
		a.json(w, http.StatusConflict, map[string]string{"error": "already_active", "job_id": sub.Job.ID})
		return
	}
	a.json(w, http.StatusAccepted, submitResponse{JobID: sub.Job.ID, Status: sub.Job.Status})
}
