package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
	"github.com/CanSsever/qoder-deneme-sub000/internal/storage"
	"github.com/CanSsever/qoder-deneme-sub000/internal/webhook"
)

func (o *Orchestrator) validateInputs(ctx context.Context, job *domain.Job) error {
	if len(job.InputURLs) == 0 {
		return domain.ValidationError("validate", "job has no input images", nil)
	}
	if need := job.Type.MinInputs(); len(job.InputURLs) < need {
		return domain.ValidationError("validate", fmt.Sprintf("%s needs %d input images, got %d", job.Type, need, len(job.InputURLs)), nil)
	}
	for i, u := range job.InputURLs {
		if _, err := o.guard.CheckInput(ctx, u); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, p providers.Provider, job *domain.Job, tpl pipeline.Template) (providers.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	resp, err := p.Submit(callCtx, job, tpl)
	if err != nil {
		return providers.Response{}, o.callError(ctx, err)
	}
	return resp, nil
}

func (o *Orchestrator) poll(ctx context.Context, p providers.Provider, job *domain.Job) (providers.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	resp, err := p.Poll(callCtx, job, job.RemoteID)
	if err != nil {
		return providers.Response{}, o.callError(ctx, err)
	}
	return resp, nil
}

// callError keeps caller cancellation distinct from a provider call that ran
// into its own timeout.
func (o *Orchestrator) callError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// pollUntilTerminal polls at a fixed interval up to maxPolls times. It
// returns domain.ErrJobFinalized once the job was finished in the store
// meanwhile, which is how a cancel request reaches a running attempt.
func (o *Orchestrator) pollUntilTerminal(ctx context.Context, p providers.Provider, job *domain.Job, resp providers.Response, log *infra.Logger) (providers.Response, error) {
	for polls := 0; !resp.Status.Terminal(); polls++ {
		if polls >= o.maxPolls {
			return resp, domain.TransientError("poll", fmt.Sprintf("provider did not finish after %d polls", o.maxPolls), nil)
		}
		if err := o.sleep(ctx, o.interval); err != nil {
			return resp, err
		}
		if o.cancelledInStore(ctx, job.ID) {
			log.Info().Msg("orchestrator: cancellation observed while polling")
			return resp, domain.ErrJobFinalized
		}
		next, err := o.poll(ctx, p, job)
		if err != nil {
			return resp, err
		}
		resp = next
		if resp.Status == providers.StatusSucceeded {
			break
		}
		if job.AdvanceProgress(min(resp.Progress, progressCap)) {
			if err := o.save(ctx, job); err != nil {
				return resp, err
			}
			log.Debug().Int("progress", job.Progress).Str("status", string(resp.Status)).Msg("orchestrator: progress")
		}
	}
	return resp, nil
}

// materialize downloads, validates and stores outputs, then records one
// artifact per output and completes the job.
func (o *Orchestrator) materialize(ctx context.Context, p providers.Provider, job *domain.Job, resp providers.Response, fingerprint string, log *infra.Logger) (Result, error) {
	if len(resp.Outputs) == 0 {
		return Result{}, providers.Failure(p.Name(), job.RemoteID, "provider reported success without outputs", nil)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	files, err := p.DownloadOutputs(callCtx, job.RemoteID, resp.Outputs)
	cancel()
	if err != nil {
		return Result{}, o.callError(ctx, err)
	}
	if missing := len(resp.Outputs) - len(files); missing > 0 {
		log.Warn().Int("missing", missing).Msg("orchestrator: some outputs could not be downloaded")
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	type checkedOutput struct {
		name string
		data []byte
		mime string
		hash string
		w, h int
	}
	checked := make([]checkedOutput, 0, len(names))
	for _, name := range names {
		res, err := o.guard.CheckOutput(files[name])
		if err != nil {
			return Result{}, fmt.Errorf("output %s: %w", name, err)
		}
		checked = append(checked, checkedOutput{name: name, data: files[name], mime: res.MIMEType, hash: res.ContentHash, w: res.Width, h: res.Height})
	}

	// Conditional save: refuses with domain.ErrJobFinalized when a cancel
	// landed while outputs were downloading.
	if err := o.save(ctx, job); err != nil {
		return Result{}, err
	}

	artifacts := make([]domain.Artifact, 0, len(checked))
	for _, out := range checked {
		key := storage.OutputKey(string(job.Type), job.ID, out.name, out.mime)
		url, err := o.storage.Upload(ctx, out.data, key)
		if err != nil {
			return Result{}, domain.TransientError("upload", "output could not be stored", err)
		}
		a := &domain.Artifact{
			JobID:       job.ID,
			UserID:      job.UserID,
			Name:        out.name,
			OutputURL:   url,
			StorageKey:  key,
			Bytes:       int64(len(out.data)),
			MIMEType:    out.mime,
			Width:       out.w,
			Height:      out.h,
			Fingerprint: fingerprint,
			ExtraData: map[string]any{
				domain.ExtraFingerprint: fingerprint,
				domain.ExtraProvider:    p.Name(),
				domain.ExtraRemoteID:    job.RemoteID,
				domain.ExtraContentHash: out.hash,
				domain.ExtraOutputName:  out.name,
			},
		}
		if err := o.store.CreateArtifact(ctx, a); err != nil {
			return Result{}, domain.TransientError("create artifact", "artifact could not be recorded", err)
		}
		if o.cache != nil {
			o.cache.Remember(ctx, a)
		}
		artifacts = append(artifacts, *a)
	}

	job.MarkSucceeded(o.now())
	if err := o.save(ctx, job); err != nil {
		return Result{}, err
	}
	o.notify(job, webhook.EventSucceeded, successData(artifacts, false))
	log.Info().Int("artifacts", len(artifacts)).Msg("orchestrator: job succeeded")
	return Result{JobID: job.ID, Status: job.Status, OutputURLs: outputURLs(artifacts)}, nil
}

// completeFromCache records new artifacts pointing at the cached outputs and
// finishes the job without touching a provider. Every output the source job
// stored under the same fingerprint is copied, not only the one the cache
// returned.
func (o *Orchestrator) completeFromCache(ctx context.Context, job *domain.Job, hit *domain.Artifact, fingerprint string) (Result, error) {
	sources := o.cachedOutputs(ctx, hit, fingerprint)
	artifacts := make([]domain.Artifact, 0, len(sources))
	for _, src := range sources {
		extra := src.CloneExtra()
		extra[domain.ExtraFingerprint] = fingerprint
		extra[domain.ExtraCacheHit] = true
		extra[domain.ExtraSourceArtifactID] = src.ID
		extra[domain.ExtraSourceJobID] = src.JobID
		a := &domain.Artifact{
			JobID:       job.ID,
			UserID:      job.UserID,
			Name:        src.Name,
			OutputURL:   src.OutputURL,
			StorageKey:  src.StorageKey,
			Bytes:       src.Bytes,
			MIMEType:    src.MIMEType,
			Width:       src.Width,
			Height:      src.Height,
			Fingerprint: fingerprint,
			ExtraData:   extra,
		}
		if err := o.store.CreateArtifact(ctx, a); err != nil {
			return Result{}, domain.TransientError("create artifact", "artifact could not be recorded", err)
		}
		if p, ok := extra[domain.ExtraProvider].(string); ok && job.Provider == "" {
			job.Provider = p
		}
		artifacts = append(artifacts, *a)
	}
	job.MarkSucceeded(o.now())
	if err := o.save(ctx, job); err != nil {
		return Result{}, err
	}
	o.notify(job, webhook.EventSucceeded, successData(artifacts, true))
	o.logger.Info().Str("job_id", job.ID).Str("source_job_id", hit.JobID).Int("artifacts", len(artifacts)).Msg("orchestrator: served from cache")
	return Result{JobID: job.ID, Status: job.Status, OutputURLs: outputURLs(artifacts), Cached: true}, nil
}

// cachedOutputs lists the artifacts the source job stored under fingerprint,
// falling back to the cache hit alone when the listing fails.
func (o *Orchestrator) cachedOutputs(ctx context.Context, hit *domain.Artifact, fingerprint string) []domain.Artifact {
	stored, err := o.store.ListArtifactsByJob(ctx, hit.JobID)
	if err != nil {
		o.logger.Warn().Err(err).Str("source_job_id", hit.JobID).Msg("orchestrator: source artifacts unavailable, using cache hit only")
		return []domain.Artifact{*hit}
	}
	out := make([]domain.Artifact, 0, len(stored))
	for _, a := range stored {
		if a.Fingerprint == fingerprint {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return []domain.Artifact{*hit}
	}
	return out
}

// resultFor describes a job as it stands, including stored output URLs for
// succeeded jobs.
func (o *Orchestrator) resultFor(ctx context.Context, job *domain.Job) Result {
	res := Result{JobID: job.ID, Status: job.Status, Error: job.ErrorMessage}
	if job.Status == domain.JobStatusSucceeded {
		artifacts, err := o.store.ListArtifactsByJob(ctx, job.ID)
		if err == nil {
			res.OutputURLs = outputURLs(artifacts)
		}
	}
	return res
}

func successData(artifacts []domain.Artifact, cached bool) map[string]any {
	items := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		items = append(items, map[string]any{
			"id":         a.ID,
			"name":       a.Name,
			"output_url": a.OutputURL,
			"mime_type":  a.MIMEType,
			"bytes":      a.Bytes,
			"width":      a.Width,
			"height":     a.Height,
		})
	}
	return map[string]any{
		"artifacts":   items,
		"output_urls": outputURLs(artifacts),
		"cached":      cached,
	}
}

func outputURLs(artifacts []domain.Artifact) []string {
	urls := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		urls = append(urls, a.OutputURL)
	}
	return urls
}
