package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/orchestrator"
)

// ClaimLoop polls the store for pending jobs. A job is only claimed once a
// pool slot is free, so claimed jobs never wait in memory.
type ClaimLoop struct {
	Claimer   domain.JobClaimer
	Processor Processor
	Pool      *Pool
	Interval  time.Duration
	Logger    *infra.Logger
}

// Run claims and processes jobs until ctx is done, then waits for running
// jobs to return.
func (l *ClaimLoop) Run(ctx context.Context) error {
	logger := infra.LoggerOrNop(l.Logger)
	interval := l.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger.Info().Msg("worker: claim loop started")
	defer l.Pool.Wait()

	for {
		if !l.Pool.acquire(ctx) {
			return ctx.Err()
		}
		jobID, err := l.Claimer.ClaimPendingJob(ctx)
		if err != nil {
			l.Pool.release()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, domain.ErrNoJobAvailable) {
				logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			if err := sleepContext(ctx, interval); err != nil {
				return err
			}
			continue
		}

		logger.Info().Str("job_id", jobID).Msg("worker: picked job")
		l.Pool.wg.Add(1)
		go func() {
			defer l.Pool.wg.Done()
			defer l.Pool.release()
			res := l.Processor.Process(ctx, jobID)
			logResult(logger, res)
		}()
	}
}

func logResult(logger *infra.Logger, res orchestrator.Result) {
	evt := logger.Info()
	if res.Error != "" {
		evt = logger.Warn().Str("error", res.Error)
	}
	evt.Str("job_id", res.JobID).
		Str("status", string(res.Status)).
		Int("attempts", res.Attempts).
		Bool("cached", res.Cached).
		Strs("output_urls", res.OutputURLs).
		Msg("worker: job finished")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
