package handlers

import (
	"net/http"
	"strings"

	"github.com/CanSsever/qoder-deneme-sub000/internal/statuscache"
)

// Stream pushes live status over a websocket. With ?job_id= it starts from
// the job's current status and ends when the job finishes.
func (a *App) Stream(w http.ResponseWriter, r *http.Request) {
	if a.Hub == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "live updates are disabled")
		return
	}
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	var initial *statuscache.Status
	if jobID != "" {
		if a.Status != nil {
			if s, err := a.Status.Get(r.Context(), jobID); err == nil {
				initial = s
			}
		}
		if initial == nil {
			job, err := a.Jobs.LoadJob(r.Context(), jobID)
			if err != nil {
				a.error(w, http.StatusNotFound, "not_found", "job not found")
				return
			}
			s := statuscache.FromJob(*job)
			initial = &s
		}
	}
	a.Hub.Serve(w, r, jobID, initial)
}
