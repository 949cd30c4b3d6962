package webhook

import (
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

// Event names a job lifecycle transition.
type Event string

const (
	EventStarted   Event = "job.started"
	EventSucceeded Event = "job.succeeded"
	EventFailed    Event = "job.failed"
	EventCancelled Event = "job.cancelled"
)

// EventForStatus maps a job status to its lifecycle event.
func EventForStatus(s domain.JobStatus) (Event, bool) {
	switch s {
	case domain.JobStatusRunning:
		return EventStarted, true
	case domain.JobStatusSucceeded:
		return EventSucceeded, true
	case domain.JobStatusFailed:
		return EventFailed, true
	case domain.JobStatusCancelled:
		return EventCancelled, true
	}
	return "", false
}

// Payload is the JSON body sent to receivers.
type Payload struct {
	Event     Event          `json:"event"`
	JobID     string         `json:"job_id"`
	UserID    string         `json:"user_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewPayload builds a payload for job stamped at now.
func NewPayload(event Event, job *domain.Job, data map[string]any, now time.Time) Payload {
	copied := make(map[string]any, len(data)+2)
	for k, v := range data {
		copied[k] = v
	}
	data = copied
	p := Payload{Event: event, Timestamp: now.UTC().Format(time.RFC3339), Data: data}
	if job != nil {
		p.JobID = job.ID
		p.UserID = job.UserID
		if _, ok := data["status"]; !ok {
			data["status"] = string(job.Status)
		}
		if _, ok := data["job_type"]; !ok {
			data["job_type"] = string(job.Type)
		}
	}
	return p
}
