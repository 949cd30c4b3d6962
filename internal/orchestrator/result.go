package orchestrator

import "github.com/CanSsever/qoder-deneme-sub000/internal/domain"

// Result is returned to the dispatch layer for logging.
type Result struct {
	JobID      string
	Status     domain.JobStatus
	OutputURLs []string
	Error      string
	Cached     bool
	Attempts   int
}

// Map renders the result in the {status, output_urls, error} shape.
func (r Result) Map() map[string]any {
	m := map[string]any{"job_id": r.JobID, "status": string(r.Status)}
	if len(r.OutputURLs) > 0 {
		m["output_urls"] = r.OutputURLs
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.Cached {
		m["cached"] = true
	}
	if r.Attempts > 0 {
		m["attempts"] = r.Attempts
	}
	return m
}
