package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobType enumerates supported image-processing job categories.
type JobType string

const (
	JobTypeRestoreFace JobType = "restore-face"
	JobTypeSwapFace    JobType = "swap-face"
	JobTypeUpscale     JobType = "upscale"
)

// ParseJobType normalizes free-form input into a supported job type.
func ParseJobType(raw string) (JobType, error) {
	switch JobType(strings.ToLower(strings.TrimSpace(raw))) {
	case JobTypeRestoreFace, "restore_face", "face_restore":
		return JobTypeRestoreFace, nil
	case JobTypeSwapFace, "swap_face", "face_swap":
		return JobTypeSwapFace, nil
	case JobTypeUpscale:
		return JobTypeUpscale, nil
	default:
		return "", fmt.Errorf("unsupported job type %q", raw)
	}
}

// MinInputs reports how many input images the job type needs.
func (t JobType) MinInputs() int {
	if t == JobTypeSwapFace {
		return 2
	}
	return 1
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions may occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one user-requested processing unit. The orchestrator owns it while
// an attempt runs; the store persists it between transitions.
type Job struct {
	ID           string
	UserID       string
	Type         JobType
	InputURLs    []string
	Params       map[string]any
	Status       JobStatus
	Progress     int
	RemoteID     string
	Provider     string
	WebhookURL   string
	ErrorMessage string
	Attempt      int
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	UpdatedAt    time.Time
}

// BeginAttempt resets per-attempt state. Remote id and progress belong to a
// single attempt.
func (j *Job) BeginAttempt(attempt int) {
	j.Attempt = attempt
	j.RemoteID = ""
	j.Progress = 0
}

// AssignRemoteID records the provider handle; it may only be set once per
// attempt.
func (j *Job) AssignRemoteID(remoteID string) error {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return fmt.Errorf("job %s: empty remote id", j.ID)
	}
	if j.RemoteID != "" && j.RemoteID != remoteID {
		return fmt.Errorf("job %s: %w (have %s, got %s)", j.ID, ErrRemoteIDAssigned, j.RemoteID, remoteID)
	}
	j.RemoteID = remoteID
	return nil
}

// AdvanceProgress raises progress to p, clamped to 0..100. It never lowers
// the value and reports whether anything changed.
func (j *Job) AdvanceProgress(p int) bool {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p <= j.Progress {
		return false
	}
	j.Progress = p
	return true
}

// MarkRunning transitions the job into running and stamps the start time once.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = JobStatusRunning
	j.ErrorMessage = ""
	if j.StartedAt == nil {
		started := now
		j.StartedAt = &started
	}
	j.UpdatedAt = now
}

// MarkSucceeded finalizes the job with full progress.
func (j *Job) MarkSucceeded(now time.Time) {
	j.Status = JobStatusSucceeded
	j.Progress = 100
	j.ErrorMessage = ""
	j.finish(now)
}

// MarkFailed finalizes the job with a user-visible message.
func (j *Job) MarkFailed(now time.Time, message string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = strings.TrimSpace(message)
	j.finish(now)
}

// MarkCancelled finalizes the job as cancelled.
func (j *Job) MarkCancelled(now time.Time) {
	j.Status = JobStatusCancelled
	j.finish(now)
}

func (j *Job) finish(now time.Time) {
	finished := now
	j.FinishedAt = &finished
	j.UpdatedAt = now
}
