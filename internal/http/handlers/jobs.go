package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.Jobs.Store().Get(chi.URLParam(r, "id"))
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, job)
}

// ListJobs returns recently finished jobs, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	history := a.Jobs.Store().History()
	if limit := listLimit(r); len(history) > limit {
		history = history[:limit]
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":  history,
		"active": a.Jobs.Store().ActiveCount(),
	})
}

func (a *App) ActiveJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.Jobs.Store().ActiveJobFor(chi.URLParam(r, "userID"))
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "no active job")
		return
	}
	a.json(w, http.StatusOK, job)
}

// ArchivedJobs lists a user's persisted jobs from the archive.
func (a *App) ArchivedJobs(w http.ResponseWriter, r *http.Request) {
	if a.Archive == nil {
		a.error(w, http.StatusServiceUnavailable, "archive_disabled", "job archive is not configured")
		return
	}
	userID := chi.URLParam(r, "userID")
	items, err := a.Archive.ListByUser(r.Context(), userID, listLimit(r))
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("list archived jobs")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load archive")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func listLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
