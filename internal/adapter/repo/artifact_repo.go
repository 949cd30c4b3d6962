package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/sqlinline"
)

// ArtifactRepositoryPG implements domain.ArtifactRepository using PostgreSQL.
type ArtifactRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewArtifactRepository constructs a new artifact repository instance.
func NewArtifactRepository(sql infra.SQLExecutor) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{sql: sql, now: time.Now}
}

// CreateArtifact inserts a new artifact row, assigning id and creation time
// when they are unset.
func (r *ArtifactRepositoryPG) CreateArtifact(ctx context.Context, artifact *domain.Artifact) error {
	if artifact == nil {
		return fmt.Errorf("artifact is required")
	}
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = r.now().UTC()
	}
	extra, err := encodeMap(artifact.ExtraData)
	if err != nil {
		return fmt.Errorf("encode artifact extra data: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertArtifact,
		artifact.ID,
		artifact.JobID,
		artifact.UserID,
		artifact.Name,
		artifact.OutputURL,
		artifact.StorageKey,
		artifact.Bytes,
		artifact.MIMEType,
		artifact.Width,
		artifact.Height,
		artifact.Fingerprint,
		extra,
		artifact.CreatedAt,
	)
	return err
}

// FindArtifactByFingerprint returns the newest artifact carrying the fingerprint.
func (r *ArtifactRepositoryPG) FindArtifactByFingerprint(ctx context.Context, fingerprint string) (*domain.Artifact, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectArtifactByFingerprint, fingerprint)
	artifact, err := scanArtifact(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return artifact, nil
}

// ListArtifactsByJob returns all artifacts belonging to the job.
func (r *ArtifactRepositoryPG) ListArtifactsByJob(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListArtifactsByJob, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func scanArtifact(row pgx.Row) (*domain.Artifact, error) {
	var (
		artifact domain.Artifact
		rawExtra []byte
	)
	if err := row.Scan(
		&artifact.ID,
		&artifact.JobID,
		&artifact.UserID,
		&artifact.Name,
		&artifact.OutputURL,
		&artifact.StorageKey,
		&artifact.Bytes,
		&artifact.MIMEType,
		&artifact.Width,
		&artifact.Height,
		&artifact.Fingerprint,
		&rawExtra,
		&artifact.CreatedAt,
	); err != nil {
		return nil, err
	}
	extra, err := decodeMap(rawExtra)
	if err != nil {
		return nil, fmt.Errorf("decode artifact extra data: %w", err)
	}
	artifact.ExtraData = extra
	return &artifact, nil
}
