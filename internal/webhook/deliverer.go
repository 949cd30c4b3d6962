package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

// Options configures a Deliverer.
type Options struct {
	Secret     string
	Timeout    time.Duration
	Delays     []time.Duration
	HTTPClient *http.Client
	Recorder   domain.DeliveryRepository
	Logger     *infra.Logger
}

// Deliverer posts signed payloads with bounded retries.
type Deliverer struct {
	secret   string
	timeout  time.Duration
	delays   []time.Duration
	client   *http.Client
	recorder domain.DeliveryRepository
	logger   *infra.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func NewDeliverer(opts Options) *Deliverer {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		secret:   opts.Secret,
		timeout:  timeout,
		delays:   append([]time.Duration(nil), opts.Delays...),
		client:   client,
		recorder: opts.Recorder,
		logger:   infra.LoggerOrNop(opts.Logger),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Deliver sends p to target, retrying non-2xx answers and transport errors
// alike after each configured delay. The outcome is recorded and returned;
// it is never an error for the caller.
func (d *Deliverer) Deliver(ctx context.Context, target string, p Payload) domain.WebhookDelivery {
	delivery := domain.WebhookDelivery{
		ID:        uuid.NewString(),
		JobID:     p.JobID,
		Event:     string(p.Event),
		TargetURL: strings.TrimSpace(target),
		CreatedAt: d.now().UTC(),
	}
	if delivery.TargetURL == "" {
		delivery.Outcome = domain.DeliverySkipped
		d.logger.Info().Str("job_id", p.JobID).Str("event", string(p.Event)).Msg("webhook: no target configured, skipping")
		return delivery
	}

	body, err := json.Marshal(p)
	if err != nil {
		delivery.Outcome = domain.DeliveryFailed
		delivery.LastError = err.Error()
		d.record(ctx, delivery)
		return delivery
	}

	for attempt := 0; attempt <= len(d.delays); attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, d.delays[attempt-1]); err != nil {
				delivery.LastError = err.Error()
				break
			}
		}
		delivery.Attempts = attempt + 1
		status, err := d.post(ctx, delivery, body)
		delivery.StatusCode = status
		if err == nil {
			delivery.Outcome = domain.DeliveryDelivered
			delivery.LastError = ""
			d.logger.Info().Str("job_id", p.JobID).Str("event", string(p.Event)).Int("attempts", delivery.Attempts).Msg("webhook: delivered")
			d.record(ctx, delivery)
			return delivery
		}
		delivery.LastError = err.Error()
		d.logger.Warn().Err(err).Str("job_id", p.JobID).Str("event", string(p.Event)).Int("attempt", delivery.Attempts).Msg("webhook: delivery attempt failed")
	}

	delivery.Outcome = domain.DeliveryFailed
	d.logger.Error().Str("job_id", p.JobID).Str("event", string(p.Event)).Int("attempts", delivery.Attempts).Str("error", delivery.LastError).Msg("webhook: delivery failed")
	d.record(ctx, delivery)
	return delivery
}

func (d *Deliverer) post(ctx context.Context, delivery domain.WebhookDelivery, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "image-jobs-webhook/1")
	req.Header.Set(HeaderEvent, delivery.Event)
	req.Header.Set(HeaderDelivery, delivery.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))
	if d.secret != "" {
		req.Header.Set(HeaderSignature, Sign(d.secret, body))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Deliverer) record(ctx context.Context, delivery domain.WebhookDelivery) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordDelivery(context.WithoutCancel(ctx), delivery); err != nil {
		d.logger.Warn().Err(err).Str("job_id", delivery.JobID).Msg("webhook: recording delivery failed")
	}
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
