// Package sqlite is the single-node persistence backend. It implements the
// same repositories as the Postgres adapter on an embedded database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_type TEXT NOT NULL,
	input_urls TEXT NOT NULL DEFAULT '[]',
	params TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	remote_id TEXT,
	provider TEXT,
	webhook_url TEXT,
	error_message TEXT,
	attempt INTEGER NOT NULL DEFAULT 0,
	claimed_at DATETIME,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	finished_at DATETIME,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(created_at) WHERE status = 'pending' AND claimed_at IS NULL;

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	output_url TEXT NOT NULL,
	storage_key TEXT NOT NULL DEFAULT '',
	bytes INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	fingerprint TEXT NOT NULL DEFAULT '',
	extra_data TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts(job_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_fingerprint ON artifacts(fingerprint, created_at) WHERE fingerprint <> '';

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	event TEXT NOT NULL,
	target_url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS integration_tokens (
	provider TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const jobColumns = `id, user_id, job_type, input_urls, params, status, progress,
	coalesce(remote_id, ''), coalesce(provider, ''), coalesce(webhook_url, ''), coalesce(error_message, ''),
	attempt, created_at, started_at, finished_at, updated_at`

const artifactColumns = `id, job_id, user_id, name, output_url, storage_key, bytes, mime_type,
	width, height, fingerprint, extra_data, created_at`

// Store implements domain.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database file and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; claims rely on it.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a pending job, assigning an id when unset.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	jobType, err := domain.ParseJobType(string(job.Type))
	if err != nil {
		return domain.ValidationError("create job", err.Error(), err)
	}
	job.Type = jobType
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = domain.JobStatusPending

	inputs, err := json.Marshal(nonNil(job.InputURLs))
	if err != nil {
		return err
	}
	params, err := encodeMap(job.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, job_type, input_urls, params, status, provider, webhook_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', nullif(?, ''), nullif(?, ''), ?, ?)
	`, job.ID, job.UserID, string(job.Type), string(inputs), string(params), job.Provider, job.WebhookURL, job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *Store) LoadJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	var (
		job               domain.Job
		jobType, status   string
		inputs, params    string
		started, finished sql.NullTime
	)
	err := row.Scan(&job.ID, &job.UserID, &jobType, &inputs, &params, &status, &job.Progress,
		&job.RemoteID, &job.Provider, &job.WebhookURL, &job.ErrorMessage,
		&job.Attempt, &job.CreatedAt, &started, &finished, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(inputs), &job.InputURLs); err != nil {
		return nil, fmt.Errorf("decode inputs for job %s: %w", id, err)
	}
	if job.Params, err = decodeMap(params); err != nil {
		return nil, fmt.Errorf("decode params for job %s: %w", id, err)
	}
	job.StartedAt = timePtr(started)
	job.FinishedAt = timePtr(finished)
	return &job, nil
}

func (s *Store) SaveJob(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, progress = ?, remote_id = nullif(?, ''), provider = nullif(?, ''),
		    error_message = nullif(?, ''), attempt = ?, started_at = ?, finished_at = ?,
		    claimed_at = CASE WHEN ? = 'pending' THEN NULL ELSE claimed_at END,
		    updated_at = ?
		WHERE id = ? AND status NOT IN ('succeeded', 'failed', 'cancelled')
	`, string(job.Status), job.Progress, job.RemoteID, job.Provider, job.ErrorMessage, job.Attempt,
		nullTime(job.StartedAt), nullTime(job.FinishedAt), string(job.Status), s.now(), job.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, job.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s: %w", job.ID, status, domain.ErrJobFinalized)
	}
	return nil
}

// ClaimPendingJob stamps the oldest unclaimed pending job and returns its id.
func (s *Store) ClaimPendingJob(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND claimed_at IS NULL
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING id
	`, s.now(), s.now()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNoJobAvailable
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	if a == nil {
		return fmt.Errorf("artifact is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	extra, err := encodeMap(a.ExtraData)
	if err != nil {
		return fmt.Errorf("encode artifact extra data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.JobID, a.UserID, a.Name, a.OutputURL, a.StorageKey, a.Bytes, a.MIMEType,
		a.Width, a.Height, a.Fingerprint, string(extra), a.CreatedAt)
	return err
}

func (s *Store) FindArtifactByFingerprint(ctx context.Context, fingerprint string) (*domain.Artifact, error) {
	if fingerprint == "" {
		return nil, domain.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts
		WHERE fingerprint = ? ORDER BY created_at DESC LIMIT 1`, fingerprint)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (s *Store) ListArtifactsByJob(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts
		WHERE job_id = ? ORDER BY created_at ASC, name ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) RecordDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, job_id, event, target_url, outcome, attempts, status_code, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.JobID, d.Event, d.TargetURL, string(d.Outcome), d.Attempts, d.StatusCode, d.LastError, d.CreatedAt)
	return err
}

// Deliveries lists recorded deliveries for a job, oldest first.
func (s *Store) Deliveries(ctx context.Context, jobID string) ([]domain.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, event, target_url, outcome, attempts, status_code, last_error, created_at
		FROM webhook_deliveries WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WebhookDelivery
	for rows.Next() {
		var (
			d       domain.WebhookDelivery
			outcome string
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.Event, &d.TargetURL, &outcome, &d.Attempts, &d.StatusCode, &d.LastError, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Outcome = domain.DeliveryOutcome(outcome)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Resolve prefers the configured secret and falls back to the stored token.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, nil
	}
	return s.Token(ctx, provider)
}

// Token returns a stored provider credential, or "" when absent.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM integration_tokens WHERE provider = ?`, provider).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, err
}

// SetToken upserts a provider credential.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_tokens (provider, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at
	`, provider, token, s.now())
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (*domain.Artifact, error) {
	var (
		a     domain.Artifact
		extra string
	)
	if err := row.Scan(&a.ID, &a.JobID, &a.UserID, &a.Name, &a.OutputURL, &a.StorageKey, &a.Bytes,
		&a.MIMEType, &a.Width, &a.Height, &a.Fingerprint, &extra, &a.CreatedAt); err != nil {
		return nil, err
	}
	m, err := decodeMap(extra)
	if err != nil {
		return nil, fmt.Errorf("decode artifact extra data: %w", err)
	}
	a.ExtraData = m
	return &a, nil
}

func encodeMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMap(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var (
	_ domain.Store      = (*Store)(nil)
	_ domain.JobCreator = (*Store)(nil)
)
