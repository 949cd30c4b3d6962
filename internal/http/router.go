package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/CanSsever/qoder-deneme-sub000/internal/http/handlers"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/middleware"
)

// RouterOptions carries the HTTP-level settings of the ops API.
type RouterOptions struct {
	StaticDir       string
	AllowedOrigins  []string
	CancelRateLimit int
	Logger          *infra.Logger
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/providers/health", app.ProvidersHealth)

	r.Route("/v1/jobs/{id}", func(r chi.Router) {
		r.Get("/", app.JobStatus)
		r.Get("/artifacts", app.JobArtifacts)
		r.Get("/artifacts.zip", app.JobArchive)
		r.With(middleware.RateLimit(opts.CancelRateLimit, time.Minute)).Post("/cancel", app.CancelJob)
	})

	r.Get("/v1/ws", app.Stream)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}
	return r
}
