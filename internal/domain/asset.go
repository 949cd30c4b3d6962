package domain

import "time"

// Extra-data keys stored on every artifact.
const (
	ExtraFingerprint      = "fingerprint"
	ExtraProvider         = "provider"
	ExtraRemoteID         = "remote_id"
	ExtraContentHash      = "content_hash"
	ExtraOutputName       = "output_name"
	ExtraCacheHit         = "cache_hit"
	ExtraSourceArtifactID = "source_artifact_id"
	ExtraSourceJobID      = "source_job_id"
)

// Artifact is one materialized output of a successful job. It is immutable
// once created; cache hits produce a new row pointing at the same object.
type Artifact struct {
	ID          string
	JobID       string
	UserID      string
	Name        string
	OutputURL   string
	StorageKey  string
	Bytes       int64
	MIMEType    string
	Width       int
	Height      int
	Fingerprint string
	ExtraData   map[string]any
	CreatedAt   time.Time
}

// CloneExtra returns a shallow copy of the extra-data map.
func (a Artifact) CloneExtra() map[string]any {
	out := make(map[string]any, len(a.ExtraData)+3)
	for k, v := range a.ExtraData {
		out[k] = v
	}
	return out
}

// DeliveryOutcome is the final state of one webhook delivery.
type DeliveryOutcome string

const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryFailed    DeliveryOutcome = "failed"
	DeliverySkipped   DeliveryOutcome = "skipped"
)

// WebhookDelivery records the result of delivering one lifecycle event.
type WebhookDelivery struct {
	ID         string
	JobID      string
	Event      string
	TargetURL  string
	Outcome    DeliveryOutcome
	Attempts   int
	StatusCode int
	LastError  string
	CreatedAt  time.Time
}
