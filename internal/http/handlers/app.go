package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"promptbot/internal/dispatch"
	"promptbot/internal/domain"
)

// JobService is the dispatcher surface the API needs.
type JobService interface {
	Submit(ctx context.Context, req dispatch.Request) (dispatch.Submission, error)
	Store() dispatch.JobReader
}

type App struct {
	Jobs    JobService
	Archive domain.JobArchive
	Logger  zerolog.Logger
}

func NewApp(jobs JobService, archive domain.JobArchive, logger zerolog.Logger) *App {
	return &App{Jobs: jobs, Archive: archive, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
