package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

type stubExecutor struct {
	exec struct {
		query string
		args  []any
	}
	tag     pgconn.CommandTag
	execErr error
	scan    func(dest ...any) error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return s.tag, s.execErr
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{scan: s.scan}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

func TestLoadJobDecodesRow(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	exec := &stubExecutor{scan: func(dest ...any) error {
		if len(dest) != 16 {
			t.Fatalf("expected 16 scan targets, got %d", len(dest))
		}
		*dest[0].(*string) = "job-1"
		*dest[1].(*string) = "user-1"
		*dest[2].(*string) = "upscale"
		*dest[3].(*[]string) = []string{"https://img.example.com/a.jpg"}
		*dest[4].(*[]byte) = []byte(`{"scale":2}`)
		*dest[5].(*string) = "pending"
		*dest[6].(*int) = 0
		*dest[11].(*int) = 1
		*dest[12].(*time.Time) = created
		*dest[15].(*time.Time) = created
		return nil
	}}
	job, err := NewJobRepository(exec).LoadJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("LoadJob error: %v", err)
	}
	if job.Type != domain.JobTypeUpscale || job.Status != domain.JobStatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Params["scale"] != float64(2) {
		t.Fatalf("params not decoded: %#v", job.Params)
	}
	if len(job.InputURLs) != 1 || job.Attempt != 1 || !job.CreatedAt.Equal(created) {
		t.Fatalf("unexpected job fields: %+v", job)
	}
}

func TestLoadJobNotFound(t *testing.T) {
	_, err := NewJobRepository(&stubExecutor{}).LoadJob(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveJobPassesMutableFields(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 1")}
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &domain.Job{
		ID:           "job-1",
		Status:       domain.JobStatusRunning,
		Progress:     42,
		RemoteID:     "remote-9",
		Provider:     "mock",
		ErrorMessage: "",
		Attempt:      2,
		StartedAt:    &started,
	}
	if err := NewJobRepository(exec).SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob error: %v", err)
	}
	args := exec.exec.args
	if len(args) != 9 {
		t.Fatalf("expected 9 args, got %d", len(args))
	}
	if args[1] != "running" || args[2] != 42 || args[3] != "remote-9" || args[6] != 2 {
		t.Fatalf("unexpected args: %#v", args)
	}
	if args[8] != nil {
		t.Fatalf("finished_at should be NULL, got %#v", args[8])
	}
}

func TestSaveJobMissingRow(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 0")}
	err := NewJobRepository(exec).SaveJob(context.Background(), &domain.Job{ID: "gone"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveJobRefusesFinishedJob(t *testing.T) {
	exec := &stubExecutor{
		tag: pgconn.NewCommandTag("UPDATE 0"),
		scan: func(dest ...any) error {
			*dest[0].(*string) = "cancelled"
			return nil
		},
	}
	job := &domain.Job{ID: "job-1", Status: domain.JobStatusRunning, Progress: 60}
	err := NewJobRepository(exec).SaveJob(context.Background(), job)
	if !errors.Is(err, domain.ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized, got %v", err)
	}
}

func TestClaimPendingJobNoRows(t *testing.T) {
	_, err := NewJobRepository(&stubExecutor{}).ClaimPendingJob(context.Background())
	if !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}
}

func TestCreateArtifactAssignsIDAndEncodesExtra(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("INSERT 0 1")}
	artifact := &domain.Artifact{
		JobID:       "job-1",
		Name:        "output",
		OutputURL:   "http://localhost/static/a.png",
		MIMEType:    "image/png",
		Fingerprint: "abc",
		ExtraData:   map[string]any{domain.ExtraFingerprint: "abc"},
	}
	if err := NewArtifactRepository(exec).CreateArtifact(context.Background(), artifact); err != nil {
		t.Fatalf("CreateArtifact error: %v", err)
	}
	if artifact.ID == "" || artifact.CreatedAt.IsZero() {
		t.Fatalf("id/created_at not assigned: %+v", artifact)
	}
	raw, ok := exec.exec.args[11].([]byte)
	if !ok {
		t.Fatalf("extra data arg has type %T", exec.exec.args[11])
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil || extra[domain.ExtraFingerprint] != "abc" {
		t.Fatalf("extra data mismatch: %s (%v)", raw, err)
	}
}

func TestFindArtifactByFingerprintMiss(t *testing.T) {
	_, err := NewArtifactRepository(&stubExecutor{}).FindArtifactByFingerprint(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordDelivery(t *testing.T) {
	exec := &stubExecutor{}
	err := NewDeliveryRepository(exec).RecordDelivery(context.Background(), domain.WebhookDelivery{
		JobID:    "job-1",
		Event:    "job.succeeded",
		Outcome:  domain.DeliveryFailed,
		Attempts: 5,
	})
	if err != nil {
		t.Fatalf("RecordDelivery error: %v", err)
	}
	if exec.exec.args[4] != "failed" || exec.exec.args[5] != 5 {
		t.Fatalf("unexpected args: %#v", exec.exec.args)
	}
}

func TestCreateJobNormalizesTypeAndDefaults(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("INSERT 0 1")}
	job := &domain.Job{UserID: "user-1", Type: "face_swap", InputURLs: []string{"a", "b"}}
	if err := NewJobRepository(exec).CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == "" || job.Type != domain.JobTypeSwapFace || job.Status != domain.JobStatusPending {
		t.Fatalf("job %+v", job)
	}
	if got := exec.exec.args[2]; got != "swap-face" {
		t.Fatalf("job type arg %v", got)
	}
	if string(exec.exec.args[4].([]byte)) != "{}" {
		t.Fatalf("params arg %s", exec.exec.args[4])
	}
}

func TestCreateJobRejectsUnknownType(t *testing.T) {
	err := NewJobRepository(&stubExecutor{}).CreateJob(context.Background(), &domain.Job{Type: "paint"})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
