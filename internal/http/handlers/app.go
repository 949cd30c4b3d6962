package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/orchestrator"
	"github.com/CanSsever/qoder-deneme-sub000/internal/statuscache"
	"github.com/CanSsever/qoder-deneme-sub000/pkg/zip"
)

// JobReader is the read side of persistence used by the API.
type JobReader interface {
	LoadJob(ctx context.Context, id string) (*domain.Job, error)
	ListArtifactsByJob(ctx context.Context, jobID string) ([]domain.Artifact, error)
}

// Canceller cancels jobs.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) (orchestrator.Result, error)
}

// ProviderHealth reports reachability of every registered provider.
type ProviderHealth interface {
	Health(ctx context.Context) map[string]bool
	Default() string
}

// StatusReader serves cached job status.
type StatusReader interface {
	Get(ctx context.Context, jobID string) (*statuscache.Status, error)
}

// App holds the dependencies of the ops API.
type App struct {
	Jobs      JobReader
	Canceller Canceller
	Providers ProviderHealth
	Status    StatusReader
	Files     zip.Reader
	Hub       *Hub
	Logger    *infra.Logger
}

func (a *App) logger() *infra.Logger {
	return infra.LoggerOrNop(a.Logger)
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": kind, "message": message}})
}

// fail maps a classified error onto an HTTP status.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case domain.KindValidation:
		code = http.StatusBadRequest
	case domain.KindIntegrity:
		code = http.StatusNotFound
	case domain.KindTransient:
		code = http.StatusServiceUnavailable
	case domain.KindConfiguration:
		code = http.StatusFailedDependency
	}
	if code >= http.StatusInternalServerError {
		a.logger().Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
	}
	a.error(w, code, string(kind), domain.PublicMessage(err))
}
