package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository and domain.JobClaimer.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// LoadJob fetches a job by its identifier.
func (r *JobRepositoryPG) LoadJob(ctx context.Context, id string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, id)
	var (
		job       domain.Job
		jobType   string
		status    string
		rawParams []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&jobType,
		&job.InputURLs,
		&rawParams,
		&status,
		&job.Progress,
		&job.RemoteID,
		&job.Provider,
		&job.WebhookURL,
		&job.ErrorMessage,
		&job.Attempt,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	params, err := decodeMap(rawParams)
	if err != nil {
		return nil, fmt.Errorf("decode params for job %s: %w", id, err)
	}
	job.Params = params
	return &job, nil
}

// SaveJob replaces the mutable fields of a job. A job that already reached a
// terminal state is never overwritten; that case returns
// domain.ErrJobFinalized.
func (r *JobRepositoryPG) SaveJob(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QSaveJob,
		job.ID,
		string(job.Status),
		job.Progress,
		job.RemoteID,
		job.Provider,
		job.ErrorMessage,
		job.Attempt,
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobStatus, job.ID).Scan(&status); err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrNotFound
			}
			return err
		}
		return fmt.Errorf("job %s is %s: %w", job.ID, status, domain.ErrJobFinalized)
	}
	return nil
}

// CreateJob inserts a pending job, assigning an id when unset.
func (r *JobRepositoryPG) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := prepareNewJob(job); err != nil {
		return err
	}
	params, err := encodeMap(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		string(job.Type),
		job.InputURLs,
		params,
		job.Provider,
		job.WebhookURL,
		job.CreatedAt,
	)
	return err
}

// ClaimPendingJob marks the oldest unclaimed pending job as claimed and
// returns its id.
func (r *JobRepositoryPG) ClaimPendingJob(ctx context.Context) (string, error) {
	var id string
	if err := r.sql.QueryRow(ctx, sqlinline.QClaimPendingJob).Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNoJobAvailable
		}
		return "", err
	}
	return id, nil
}

func prepareNewJob(job *domain.Job) error {
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
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = domain.JobStatusPending
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func decodeMap(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func encodeMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
