// Package mock is a deterministic provider used by tests and local runs. It
// never touches the network.
package mock

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
)

// Name is the registry name of the mock provider.
const Name = "mock"

// Options scripts the mock's behaviour.
type Options struct {
	// PollsToComplete is the number of polls until a terminal response.
	PollsToComplete int
	// SubmitTimeouts and PollTimeouts make the first N calls fail with a
	// transient error.
	SubmitTimeouts int
	PollTimeouts   int
	// FailWith makes the terminal poll report an explicit failure.
	FailWith string
	// OutputURL replaces the generated inline PNG.
	OutputURL string
	OutputSize int
	Unhealthy  bool
	Logger     *infra.Logger
}

// Provider implements providers.Provider with canned responses.
type Provider struct {
	opts       Options
	downloader providers.Downloader
	logger     *infra.Logger

	submitTimeouts atomic.Int64
	pollTimeouts   atomic.Int64

	SubmitCalls atomic.Int64
	PollCalls   atomic.Int64
	CancelCalls atomic.Int64

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	polls     int
	cancelled bool
}

// New builds a mock provider.
func New(opts Options) *Provider {
	if opts.PollsToComplete <= 0 {
		opts.PollsToComplete = 3
	}
	if opts.OutputSize <= 0 {
		opts.OutputSize = 128
	}
	p := &Provider{
		opts:       opts,
		downloader: providers.Downloader{Logger: opts.Logger},
		logger:     infra.LoggerOrNop(opts.Logger),
		runs:       map[string]*run{},
	}
	p.submitTimeouts.Store(int64(opts.SubmitTimeouts))
	p.pollTimeouts.Store(int64(opts.PollTimeouts))
	return p
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Submit(ctx context.Context, job *domain.Job, tpl pipeline.Template) (providers.Response, error) {
	p.SubmitCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return providers.Response{}, err
	}
	if p.submitTimeouts.Add(-1) >= 0 {
		return providers.Response{}, providers.Transient(Name, "", "submit timed out", context.DeadlineExceeded)
	}
	remoteID := "mock-" + uuid.NewString()
	p.mu.Lock()
	p.runs[remoteID] = &run{}
	p.mu.Unlock()
	p.logger.Debug().Str("job_id", job.ID).Str("remote_id", remoteID).Msg("mock: submitted")
	return providers.Response{
		RemoteID: remoteID,
		Status:   providers.StatusPending,
		Progress: 0,
		Message:  "queued",
		Metadata: map[string]any{"template": string(tpl.JobType)},
	}, nil
}

func (p *Provider) Poll(ctx context.Context, job *domain.Job, remoteID string) (providers.Response, error) {
	p.PollCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return providers.Response{}, err
	}
	if p.pollTimeouts.Add(-1) >= 0 {
		return providers.Response{}, providers.Transient(Name, remoteID, "poll timed out", context.DeadlineExceeded)
	}
	p.mu.Lock()
	r, ok := p.runs[remoteID]
	if ok && !r.cancelled {
		r.polls++
	}
	var polls int
	var cancelled bool
	if ok {
		polls, cancelled = r.polls, r.cancelled
	}
	p.mu.Unlock()
	if !ok {
		return providers.Response{}, providers.Failure(Name, remoteID, "unknown remote id", nil)
	}
	if cancelled {
		return providers.Response{RemoteID: remoteID, Status: providers.StatusCancelled, Message: "cancelled"}, nil
	}

	total := p.opts.PollsToComplete
	progress := providers.ClampProgress(polls * 100 / total)
	if polls < total {
		return providers.Response{RemoteID: remoteID, Status: providers.StatusRunning, Progress: progress, Message: "processing"}, nil
	}
	if p.opts.FailWith != "" {
		return providers.Response{RemoteID: remoteID, Status: providers.StatusFailed, Progress: progress, Message: p.opts.FailWith}, nil
	}
	output := p.opts.OutputURL
	if output == "" {
		uri, err := p.renderOutput(job)
		if err != nil {
			return providers.Response{}, providers.Failure(Name, remoteID, "render output", err)
		}
		output = uri
	}
	return providers.Response{
		RemoteID: remoteID,
		Status:   providers.StatusSucceeded,
		Progress: 100,
		Message:  "completed",
		Outputs:  map[string]string{providers.DefaultOutputName: output},
	}, nil
}

func (p *Provider) Cancel(_ context.Context, _ *domain.Job, remoteID string) (providers.Response, error) {
	p.CancelCalls.Add(1)
	p.mu.Lock()
	if r, ok := p.runs[remoteID]; ok {
		r.cancelled = true
	}
	p.mu.Unlock()
	return providers.Response{RemoteID: remoteID, Status: providers.StatusCancelled, Message: "cancelled"}, nil
}

func (p *Provider) DownloadOutputs(ctx context.Context, remoteID string, outputs map[string]string) (map[string][]byte, error) {
	return p.downloader.Download(ctx, Name, remoteID, outputs)
}

func (p *Provider) HealthCheck(context.Context) bool { return !p.opts.Unhealthy }

// renderOutput draws a solid PNG whose shade depends on the job id.
func (p *Provider) renderOutput(job *domain.Job) (string, error) {
	var shade uint8
	for _, b := range []byte(job.ID) {
		shade += b
	}
	img := imaging.New(p.opts.OutputSize, p.opts.OutputSize, color.NRGBA{R: shade, G: 128, B: 255 - shade, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
