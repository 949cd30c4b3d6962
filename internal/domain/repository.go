package domain

import "context"

// JobRepository loads and replaces job records.
type JobRepository interface {
	LoadJob(ctx context.Context, id string) (*Job, error)
	SaveJob(ctx context.Context, job *Job) error
}

// ArtifactRepository persists job outputs and serves fingerprint lookups.
type ArtifactRepository interface {
	CreateArtifact(ctx context.Context, artifact *Artifact) error
	FindArtifactByFingerprint(ctx context.Context, fingerprint string) (*Artifact, error)
	ListArtifactsByJob(ctx context.Context, jobID string) ([]Artifact, error)
}

// DeliveryRepository records webhook delivery outcomes.
type DeliveryRepository interface {
	RecordDelivery(ctx context.Context, delivery WebhookDelivery) error
}

// JobClaimer hands out pending job ids to exactly one worker.
type JobClaimer interface {
	ClaimPendingJob(ctx context.Context) (string, error)
}

// Store bundles everything a worker process needs from persistence.
type Store interface {
	JobRepository
	ArtifactRepository
	DeliveryRepository
	JobClaimer
}

// JobCreator inserts new pending jobs.
type JobCreator interface {
	CreateJob(ctx context.Context, job *Job) error
}
