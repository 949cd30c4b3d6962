// Package statuscache keeps the latest job status in redis and fans each
// change out on a pub/sub channel for live subscribers.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

const (
	statusKeyPrefix = "job:status:"
	// Channel carries every status change as a JSON Status.
	Channel   = "job-updates"
	statusTTL = 24 * time.Hour
)

// ErrMiss is returned by Get when no status is cached.
var ErrMiss = errors.New("status not cached")

// Status is the cached view of one job.
type Status struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"job_type"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Provider  string    `json:"provider,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromJob snapshots the fields subscribers care about.
func FromJob(job domain.Job) Status {
	return Status{
		JobID:     job.ID,
		Type:      string(job.Type),
		Status:    string(job.Status),
		Progress:  job.Progress,
		Provider:  job.Provider,
		RemoteID:  job.RemoteID,
		Error:     job.ErrorMessage,
		UpdatedAt: job.UpdatedAt,
	}
}

// Terminal reports whether no further updates will follow.
func (s Status) Terminal() bool {
	return domain.JobStatus(s.Status).Terminal()
}

func key(jobID string) string {
	return statusKeyPrefix + jobID
}

// Cache writes through to redis. A nil client disables it.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *infra.Logger
}

func New(client *redis.Client, logger *infra.Logger) *Cache {
	return &Cache{client: client, ttl: statusTTL, logger: infra.LoggerOrNop(logger)}
}

// JobUpdated stores and publishes the job's status. Failures are logged so a
// redis outage never affects job processing.
func (c *Cache) JobUpdated(ctx context.Context, job domain.Job) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(FromJob(job))
	if err != nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key(job.ID), raw, c.ttl)
	pipe.Publish(ctx, Channel, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("statuscache: update failed")
	}
}

// Get returns the cached status or ErrMiss.
func (c *Cache) Get(ctx context.Context, jobID string) (*Status, error) {
	if c == nil || c.client == nil {
		return nil, ErrMiss
	}
	raw, err := c.client.Get(ctx, key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return Decode(raw)
}

// Decode parses one published or cached status.
func Decode(raw []byte) (*Status, error) {
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if s.JobID == "" {
		return nil, fmt.Errorf("decode status: missing job id")
	}
	return &s, nil
}

// Subscribe streams every published status until ctx is done. Malformed
// messages are skipped.
func (c *Cache) Subscribe(ctx context.Context) (<-chan Status, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("statuscache: redis is not configured")
	}
	sub := c.client.Subscribe(ctx, Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	out := make(chan Status, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s, err := Decode([]byte(msg.Payload))
				if err != nil {
					c.logger.Debug().Err(err).Msg("statuscache: skipping message")
					continue
				}
				select {
				case out <- *s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
