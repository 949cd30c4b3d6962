package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ProvidersHealth checks every provider. It answers 503 when the default
// provider is unreachable.
func (a *App) ProvidersHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	health := a.Providers.Health(ctx)
	code := http.StatusOK
	if !health[a.Providers.Default()] {
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, map[string]any{"default": a.Providers.Default(), "providers": health})
}
