package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"promptbot/internal/http/handlers"
	"promptbot/internal/middleware"
)

// Options configures the API router.
type Options struct {
	Logger          zerolog.Logger
	BotToken        string
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	RateLimitPerMin int
	CORSOrigins     []string
}

// NewRouter wires the intake API.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", handlers.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(opts.BotToken))

		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/v1/requests", app.SubmitRequest)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Get("/{id}", app.GetJob)
		})

		r.Route("/v1/users/{userID}", func(r chi.Router) {
			r.Get("/active", app.ActiveJob)
			r.Get("/archive", app.ArchivedJobs)
		})
	})

	return r
}

// NewHealthRouter serves only the liveness endpoints.
func NewHealthRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", handlers.Health)
	r.Get("/v1/healthz", handlers.Health)
	return r
}
