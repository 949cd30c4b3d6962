// Package providers defines the contract every inference backend implements
// and the helpers shared by the backend variants.
package providers

import (
	"context"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
)

// Status is the canonical provider status vocabulary.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further polling is needed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Response is the uniform shape returned by every provider operation.
type Response struct {
	RemoteID string
	Status   Status
	Progress int
	Message  string
	// Outputs maps output names to fetchable locations (http(s) or data: URIs).
	Outputs  map[string]string
	Metadata map[string]any
}

// Provider is implemented by each backend variant. Submit must return as soon
// as the backend accepted the work; Poll is a single side-effect free read.
type Provider interface {
	Name() string
	Submit(ctx context.Context, job *domain.Job, tpl pipeline.Template) (Response, error)
	Poll(ctx context.Context, job *domain.Job, remoteID string) (Response, error)
	// Cancel is best effort and reports cancelled even when the remote work
	// already finished.
	Cancel(ctx context.Context, job *domain.Job, remoteID string) (Response, error)
	// DownloadOutputs omits names that could not be fetched; it only fails
	// when nothing could be fetched.
	DownloadOutputs(ctx context.Context, remoteID string, outputs map[string]string) (map[string][]byte, error)
	HealthCheck(ctx context.Context) bool
}

// ClampProgress bounds p to 0..100.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
