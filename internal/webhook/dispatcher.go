package webhook

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

// Dispatcher runs one delivery per lifecycle event in the background so a
// job transition never waits on a receiver.
type Dispatcher struct {
	deliverer     *Deliverer
	defaultTarget string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	results []domain.WebhookDelivery
	keep    bool
	logger  *infra.Logger
}

// NewDispatcher sends to the job's own webhook URL when set, otherwise to
// defaultTarget.
func NewDispatcher(deliverer *Deliverer, defaultTarget string, logger *infra.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		deliverer:     deliverer,
		defaultTarget: strings.TrimSpace(defaultTarget),
		ctx:           ctx,
		cancel:        cancel,
		logger:        infra.LoggerOrNop(logger),
	}
}

// KeepResults makes the dispatcher remember outcomes for Results.
func (d *Dispatcher) KeepResults() *Dispatcher {
	d.keep = true
	return d
}

// Notify snapshots the job and delivers the event asynchronously.
func (d *Dispatcher) Notify(job *domain.Job, event Event, data map[string]any) {
	if job == nil {
		return
	}
	target := strings.TrimSpace(job.WebhookURL)
	if target == "" {
		target = d.defaultTarget
	}
	payload := NewPayload(event, job, data, d.deliverer.now())
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res := d.deliverer.Deliver(d.ctx, target, payload)
		if d.keep {
			d.mu.Lock()
			d.results = append(d.results, res)
			d.mu.Unlock()
		}
	}()
}

// Wait blocks until every pending delivery finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for pending deliveries until ctx expires, then aborts the
// remaining retries.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn().Msg("webhook: aborting pending deliveries")
		d.cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
	d.cancel()
}

// Results returns the outcomes seen so far when KeepResults is enabled.
func (d *Dispatcher) Results() []domain.WebhookDelivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.WebhookDelivery(nil), d.results...)
}
