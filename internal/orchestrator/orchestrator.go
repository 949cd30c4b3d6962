// Package orchestrator drives one job from pending to a terminal state:
// cache check, input validation, provider submit, polling, output
// materialization and lifecycle notifications.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/cache"
	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
	"github.com/CanSsever/qoder-deneme-sub000/internal/security"
	"github.com/CanSsever/qoder-deneme-sub000/internal/webhook"
)

// progressCap is the highest progress surfaced before outputs are stored.
const progressCap = 90

// Persistence is what the orchestrator reads and writes.
type Persistence interface {
	domain.JobRepository
	domain.ArtifactRepository
}

// ArtifactCache finds earlier artifacts by fingerprint.
type ArtifactCache interface {
	Lookup(ctx context.Context, fingerprint string) (*domain.Artifact, error)
	Remember(ctx context.Context, artifact *domain.Artifact)
}

// Guard validates input URLs and provider outputs.
type Guard interface {
	CheckInput(ctx context.Context, rawURL string) (security.Result, error)
	CheckOutput(data []byte) (security.Result, error)
}

// Uploader stores output bytes and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, key string) (string, error)
}

// ProviderResolver returns the provider for a name ("" is the default).
type ProviderResolver interface {
	Resolve(name string) (providers.Provider, error)
}

// Templates returns the pipeline template for a job type.
type Templates interface {
	Get(jobType domain.JobType) (pipeline.Template, error)
}

// Notifier emits lifecycle webhooks without blocking.
type Notifier interface {
	Notify(job *domain.Job, event webhook.Event, data map[string]any)
}

// Observer is told about every persisted job change.
type Observer interface {
	JobUpdated(ctx context.Context, job domain.Job)
}

// Options wires an Orchestrator.
type Options struct {
	Store     Persistence
	Cache     ArtifactCache
	Guard     Guard
	Storage   Uploader
	Providers ProviderResolver
	Templates Templates
	Notifier  Notifier
	Observers []Observer
	Logger    *infra.Logger

	// MaxPolls bounds the poll loop; exceeding it is a transient timeout.
	MaxPolls     int
	PollInterval time.Duration
	// RetryDelays holds one delay per extra attempt.
	RetryDelays []time.Duration
	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration
}

// Orchestrator processes jobs. It holds no per-job state and is safe for
// concurrent use across different job ids.
type Orchestrator struct {
	store       Persistence
	cache       ArtifactCache
	guard       Guard
	storage     Uploader
	providers   ProviderResolver
	templates   Templates
	notifier    Notifier
	observers   []Observer
	logger      *infra.Logger
	maxPolls    int
	interval    time.Duration
	retryDelays []time.Duration
	callTimeout time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New builds an orchestrator. Store, Guard, Storage, Providers and Templates
// are required; Cache and Notifier may be nil.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:       opts.Store,
		cache:       opts.Cache,
		guard:       opts.Guard,
		storage:     opts.Storage,
		providers:   opts.Providers,
		templates:   opts.Templates,
		notifier:    opts.Notifier,
		observers:   opts.Observers,
		logger:      infra.LoggerOrNop(opts.Logger),
		maxPolls:    opts.MaxPolls,
		interval:    opts.PollInterval,
		retryDelays: append([]time.Duration(nil), opts.RetryDelays...),
		callTimeout: opts.CallTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
	if o.maxPolls <= 0 {
		o.maxPolls = 300
	}
	if o.interval < 0 {
		o.interval = 0
	}
	if o.callTimeout <= 0 {
		o.callTimeout = 2 * time.Minute
	}
	if o.cache == nil && opts.Store != nil {
		o.cache = cache.New(opts.Store, nil, opts.Logger)
	}
	return o
}

// Process runs attempts until one finishes or fails with a non-transient
// error, or the retry budget is spent. Failures end with the job marked
// failed. If ctx is cancelled mid-attempt the job is released back to
// pending for redelivery.
func (o *Orchestrator) Process(ctx context.Context, jobID string) Result {
	for attempt := 0; ; attempt++ {
		res, err := o.Attempt(ctx, jobID, attempt)
		if err == nil {
			res.Attempts = attempt + 1
			return res
		}
		if ctx.Err() != nil {
			return o.release(ctx, jobID, err)
		}
		log := o.logger.With().Str("job_id", jobID).Int("attempt", attempt).Str("kind", string(domain.KindOf(err))).Logger()
		if domain.Retryable(err) && attempt < len(o.retryDelays) {
			delay := o.retryDelays[attempt]
			log.Warn().Err(err).Dur("retry_in", delay).Msg("orchestrator: attempt failed, retrying")
			if serr := o.sleep(ctx, delay); serr != nil {
				return o.release(ctx, jobID, serr)
			}
			continue
		}
		log.Error().Err(err).Msg("orchestrator: job failed")
		res = o.finalizeFailure(ctx, jobID, err)
		res.Attempts = attempt + 1
		return res
	}
}

// Attempt runs the state machine once. It never marks the job failed; the
// caller decides from the error kind whether to retry. An attempt that ends
// while its remote run may still be going cancels that run, so a job never
// has more than one active remote run.
func (o *Orchestrator) Attempt(ctx context.Context, jobID string, attempt int) (res Result, err error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if job.Status.Terminal() {
		return o.resultFor(ctx, job), nil
	}
	job.BeginAttempt(attempt)
	log := o.logger.With().Str("job_id", job.ID).Str("job_type", string(job.Type)).Int("attempt", attempt).Logger()

	remoteActive := false
	defer func() {
		if err == nil {
			return
		}
		if remoteActive {
			o.cancelRemote(ctx, job)
		}
		if errors.Is(err, domain.ErrJobFinalized) {
			res, err = o.finishedElsewhere(ctx, job.ID), nil
		}
	}()

	fingerprint := cache.Fingerprint(job)
	if hit := o.lookup(ctx, fingerprint, &log); hit != nil {
		return o.completeFromCache(ctx, job, hit, fingerprint)
	}

	if err := o.validateInputs(ctx, job); err != nil {
		return Result{}, err
	}

	provider, err := o.providers.Resolve(job.Provider)
	if err != nil {
		return Result{}, err
	}
	tpl, err := o.templates.Get(job.Type)
	if err != nil {
		return Result{}, err
	}

	job.Provider = provider.Name()
	job.MarkRunning(o.now())
	if err := o.save(ctx, job); err != nil {
		return Result{}, err
	}
	o.notify(job, webhook.EventStarted, map[string]any{"provider": job.Provider, "attempt": attempt})
	log = log.With().Str("provider", job.Provider).Logger()
	log.Info().Msg("orchestrator: job running")

	resp, err := o.submit(ctx, provider, job, tpl)
	if err != nil {
		return Result{}, err
	}
	if err := job.AssignRemoteID(resp.RemoteID); err != nil {
		return Result{}, domain.IntegrityError("submit", "provider returned an unusable remote id", err)
	}
	remoteActive = true
	job.AdvanceProgress(min(resp.Progress, progressCap))
	if err := o.save(ctx, job); err != nil {
		return Result{}, err
	}
	log = log.With().Str("remote_id", job.RemoteID).Logger()
	log.Info().Msg("orchestrator: submitted")

	resp, err = o.pollUntilTerminal(ctx, provider, job, resp, &log)
	if err != nil {
		return Result{}, err
	}
	remoteActive = false

	switch resp.Status {
	case providers.StatusSucceeded:
		return o.materialize(ctx, provider, job, resp, fingerprint, &log)
	case providers.StatusCancelled:
		job.MarkCancelled(o.now())
		if err := o.save(ctx, job); err != nil {
			return Result{}, err
		}
		o.notify(job, webhook.EventCancelled, map[string]any{"reason": "cancelled by provider"})
		return o.resultFor(ctx, job), nil
	default:
		msg := resp.Message
		if msg == "" {
			msg = "provider reported failure"
		}
		return Result{}, providers.Failure(provider.Name(), job.RemoteID, msg, nil)
	}
}

// Cancel marks a job cancelled and asks its provider to stop. Cancelling a
// terminal job returns its current state unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (Result, error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if job.Status.Terminal() {
		return o.resultFor(ctx, job), nil
	}
	job.MarkCancelled(o.now())
	if err := o.save(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobFinalized) {
			return o.finishedElsewhere(ctx, job.ID), nil
		}
		return Result{}, err
	}
	o.notify(job, webhook.EventCancelled, map[string]any{"reason": "cancelled by request"})
	o.logger.Info().Str("job_id", job.ID).Str("remote_id", job.RemoteID).Msg("orchestrator: job cancelled")

	if job.RemoteID != "" {
		o.cancelRemote(ctx, job)
	}
	return o.resultFor(ctx, job), nil
}

func (o *Orchestrator) cancelRemote(ctx context.Context, job *domain.Job) {
	provider, err := o.providers.Resolve(job.Provider)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: cannot resolve provider to cancel")
		return
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
	defer cancel()
	if _, err := provider.Cancel(callCtx, job, job.RemoteID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Str("remote_id", job.RemoteID).Msg("orchestrator: provider cancel failed")
	}
}

func (o *Orchestrator) finalizeFailure(ctx context.Context, jobID string, cause error) Result {
	ctx = context.WithoutCancel(ctx)
	msg := domain.PublicMessage(cause)
	job, err := o.load(ctx, jobID)
	if err != nil {
		return Result{JobID: jobID, Status: domain.JobStatusFailed, Error: msg}
	}
	if job.Status.Terminal() {
		return o.resultFor(ctx, job)
	}
	job.MarkFailed(o.now(), msg)
	if err := o.save(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobFinalized) {
			return o.finishedElsewhere(ctx, jobID)
		}
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: could not persist failure")
	}
	o.notify(job, webhook.EventFailed, map[string]any{"error": msg, "kind": string(domain.KindOf(cause))})
	return Result{JobID: jobID, Status: domain.JobStatusFailed, Error: msg}
}

// release puts an interrupted job back to pending so another worker can
// pick it up.
func (o *Orchestrator) release(ctx context.Context, jobID string, cause error) Result {
	ctx = context.WithoutCancel(ctx)
	job, err := o.load(ctx, jobID)
	if err == nil && !job.Status.Terminal() {
		job.Status = domain.JobStatusPending
		job.RemoteID = ""
		job.Progress = 0
		job.UpdatedAt = o.now()
		if err := o.save(ctx, job); err != nil {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: could not release job")
		}
	}
	o.logger.Warn().Err(cause).Str("job_id", jobID).Msg("orchestrator: interrupted, job released")
	return Result{JobID: jobID, Status: domain.JobStatusPending, Error: "interrupted"}
}

func (o *Orchestrator) load(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.store.LoadJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.IntegrityError("load job", "job "+jobID+" does not exist", err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.TransientError("load job", "job could not be loaded", err)
	}
	return job, nil
}

func (o *Orchestrator) save(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = o.now()
	if err := o.store.SaveJob(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobFinalized) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.TransientError("save job", "job could not be saved", err)
	}
	snapshot := *job
	for _, obs := range o.observers {
		obs.JobUpdated(ctx, snapshot)
	}
	return nil
}

func (o *Orchestrator) notify(job *domain.Job, event webhook.Event, data map[string]any) {
	if o.notifier == nil {
		return
	}
	snapshot := *job
	o.notifier.Notify(&snapshot, event, data)
}

// lookup degrades cache failures to a miss.
func (o *Orchestrator) lookup(ctx context.Context, fingerprint string, log *infra.Logger) *domain.Artifact {
	if o.cache == nil {
		return nil
	}
	hit, err := o.cache.Lookup(ctx, fingerprint)
	if err != nil {
		log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("orchestrator: cache lookup failed, treating as miss")
		return nil
	}
	return hit
}

// finishedElsewhere describes a job that another process (usually a cancel
// request) moved to a terminal state while this one was working on it.
func (o *Orchestrator) finishedElsewhere(ctx context.Context, jobID string) Result {
	ctx = context.WithoutCancel(ctx)
	current, err := o.store.LoadJob(ctx, jobID)
	if err != nil {
		return Result{JobID: jobID, Status: domain.JobStatusCancelled}
	}
	o.logger.Info().Str("job_id", jobID).Str("status", string(current.Status)).Msg("orchestrator: job finished elsewhere, dropping attempt")
	return o.resultFor(ctx, current)
}

// cancelledInStore re-reads the job to honour cancellation requests made
// while the attempt runs.
func (o *Orchestrator) cancelledInStore(ctx context.Context, jobID string) bool {
	current, err := o.store.LoadJob(ctx, jobID)
	if err != nil {
		return false
	}
	return current.Status == domain.JobStatusCancelled
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
