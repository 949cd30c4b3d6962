package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/statuscache"
	"github.com/CanSsever/qoder-deneme-sub000/pkg/zip"
)

// JobStatus serves the cached status when present, otherwise the stored job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if a.Status != nil {
		if s, err := a.Status.Get(r.Context(), jobID); err == nil {
			a.json(w, http.StatusOK, statusBody(*s, "cache"))
			return
		} else if !errors.Is(err, statuscache.ErrMiss) {
			a.logger().Warn().Err(err).Str("job_id", jobID).Msg("http: status cache unavailable")
		}
	}
	job, err := a.Jobs.LoadJob(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body := statusBody(statuscache.FromJob(*job), "store")
	body["attempt"] = job.Attempt
	body["created_at"] = job.CreatedAt
	if job.StartedAt != nil {
		body["started_at"] = job.StartedAt
	}
	if job.FinishedAt != nil {
		body["finished_at"] = job.FinishedAt
	}
	a.json(w, http.StatusOK, body)
}

func statusBody(s statuscache.Status, source string) map[string]any {
	body := map[string]any{
		"id":         s.JobID,
		"job_type":   s.Type,
		"status":     s.Status,
		"progress":   s.Progress,
		"updated_at": s.UpdatedAt,
		"source":     source,
	}
	if s.Provider != "" {
		body["provider"] = s.Provider
	}
	if s.Error != "" {
		body["error"] = s.Error
	}
	return body
}

// loadArtifacts writes the error response itself and returns ok=false.
func (a *App) loadArtifacts(w http.ResponseWriter, r *http.Request, jobID string) ([]domain.Artifact, bool) {
	if _, err := a.Jobs.LoadJob(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return nil, false
		}
		a.fail(w, r, err)
		return nil, false
	}
	artifacts, err := a.Jobs.ListArtifactsByJob(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return artifacts, true
}

func (a *App) JobArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, ok := a.loadArtifacts(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	items := make([]map[string]any, 0, len(artifacts))
	for _, art := range artifacts {
		items = append(items, map[string]any{
			"id":          art.ID,
			"name":        art.Name,
			"output_url":  art.OutputURL,
			"mime_type":   art.MIMEType,
			"bytes":       art.Bytes,
			"width":       art.Width,
			"height":      art.Height,
			"fingerprint": art.Fingerprint,
			"extra_data":  art.ExtraData,
			"created_at":  art.CreatedAt.Format(time.RFC3339),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// JobArchive streams every stored output of a job as one zip file.
func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
	if a.Files == nil {
		a.error(w, http.StatusNotImplemented, "unsupported", "artifact archives are not available")
		return
	}
	jobID := chi.URLParam(r, "id")
	artifacts, ok := a.loadArtifacts(w, r, jobID)
	if !ok {
		return
	}
	if len(artifacts) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "job has no artifacts")
		return
	}
	data, err := zip.ArchiveArtifacts(r.Context(), a.Files, artifacts)
	if err != nil {
		a.logger().Error().Err(err).Str("job_id", jobID).Msg("http: archive artifacts failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	res, err := a.Canceller.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res.Map())
}
