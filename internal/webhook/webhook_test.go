package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"event":"job.succeeded"}`)
	sig := Sign("s3cret", body)
	if len(sig) != len("sha256=")+64 || sig[:7] != "sha256=" {
		t.Fatalf("unexpected signature format %q", sig)
	}
	if !Verify("s3cret", body, sig) {
		t.Fatal("signature should verify")
	}
	if Verify("other", body, sig) || Verify("s3cret", []byte(`{}`), sig) || Verify("s3cret", body, sig[7:]) {
		t.Fatal("tampered input must not verify")
	}
}

type recorder struct {
	mu         sync.Mutex
	deliveries []domain.WebhookDelivery
}

func (r *recorder) RecordDelivery(_ context.Context, d domain.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *recorder) all() []domain.WebhookDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.WebhookDelivery(nil), r.deliveries...)
}

func newTestDeliverer(client *http.Client, rec domain.DeliveryRepository, delays ...time.Duration) (*Deliverer, *[]time.Duration) {
	d := NewDeliverer(Options{Secret: "s3cret", Delays: delays, HTTPClient: client, Recorder: rec})
	var mu sync.Mutex
	var slept []time.Duration
	d.sleep = func(_ context.Context, delay time.Duration) error {
		mu.Lock()
		slept = append(slept, delay)
		mu.Unlock()
		return nil
	}
	return d, &slept
}

func TestDeliverSignsPayload(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := &recorder{}
	d, _ := newTestDeliverer(srv.Client(), rec, time.Minute)
	job := &domain.Job{ID: "job-1", UserID: "user-1", Type: domain.JobTypeUpscale, Status: domain.JobStatusSucceeded}
	res := d.Deliver(context.Background(), srv.URL, NewPayload(EventSucceeded, job, map[string]any{"output_urls": []string{"http://cdn/x.png"}}, time.Now()))

	if res.Outcome != domain.DeliveryDelivered || res.Attempts != 1 || res.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected delivery: %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	if !Verify("s3cret", gotBody, gotHeader.Get(HeaderSignature)) {
		t.Fatalf("signature header does not match body")
	}
	if gotHeader.Get(HeaderEvent) != "job.succeeded" || gotHeader.Get(HeaderDelivery) != res.ID || gotHeader.Get(HeaderTimestamp) == "" {
		t.Fatalf("missing headers: %v", gotHeader)
	}
	var payload Payload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.JobID != "job-1" || payload.UserID != "user-1" || payload.Data["status"] != "succeeded" {
		t.Fatalf("payload mismatch: %+v", payload)
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Fatalf("timestamp is not RFC3339: %q", payload.Timestamp)
	}
	if got := rec.all(); len(got) != 1 || got[0].Outcome != domain.DeliveryDelivered {
		t.Fatalf("recorded deliveries: %+v", got)
	}
}

func TestDeliverExhaustsRetriesOnServerError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	delays := []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour}
	rec := &recorder{}
	d, slept := newTestDeliverer(srv.Client(), rec, delays...)
	res := d.Deliver(context.Background(), srv.URL, NewPayload(EventFailed, &domain.Job{ID: "job-2"}, nil, time.Now()))

	if res.Outcome != domain.DeliveryFailed || res.Attempts != 5 || res.StatusCode != 500 {
		t.Fatalf("unexpected delivery: %+v", res)
	}
	if hits.Load() != 5 {
		t.Fatalf("expected 5 attempts, receiver saw %d", hits.Load())
	}
	if len(*slept) != 4 || (*slept)[3] != 2*time.Hour {
		t.Fatalf("backoff mismatch: %v", *slept)
	}
	if got := rec.all(); len(got) != 1 || got[0].Outcome != domain.DeliveryFailed {
		t.Fatalf("recorded deliveries: %+v", got)
	}
}

func TestDeliverTransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, slept := newTestDeliverer(nil, nil, time.Second)
	res := d.Deliver(context.Background(), url, NewPayload(EventStarted, &domain.Job{ID: "job-3"}, nil, time.Now()))
	if res.Outcome != domain.DeliveryFailed || res.Attempts != 2 || len(*slept) != 1 || res.LastError == "" {
		t.Fatalf("unexpected delivery: %+v", res)
	}
}

func TestDeliverSkipsMissingTarget(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDeliverer(nil, rec)
	res := d.Deliver(context.Background(), "  ", NewPayload(EventStarted, &domain.Job{ID: "job-4"}, nil, time.Now()))
	if res.Outcome != domain.DeliverySkipped || res.Attempts != 0 {
		t.Fatalf("unexpected delivery: %+v", res)
	}
	if len(rec.all()) != 0 {
		t.Fatal("skipped deliveries are not recorded")
	}
}

func TestDispatcherPrefersJobTarget(t *testing.T) {
	var defaultHits, jobHits atomic.Int64
	defaultSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { defaultHits.Add(1) }))
	defer defaultSrv.Close()
	jobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { jobHits.Add(1) }))
	defer jobSrv.Close()

	d, _ := newTestDeliverer(nil, nil)
	disp := NewDispatcher(d, defaultSrv.URL, nil).KeepResults()
	disp.Notify(&domain.Job{ID: "job-5"}, EventStarted, nil)
	disp.Notify(&domain.Job{ID: "job-6", WebhookURL: jobSrv.URL}, EventStarted, nil)
	disp.Wait()

	if defaultHits.Load() != 1 || jobHits.Load() != 1 {
		t.Fatalf("hits default=%d job=%d", defaultHits.Load(), jobHits.Load())
	}
	if len(disp.Results()) != 2 {
		t.Fatalf("expected 2 results, got %+v", disp.Results())
	}
}

func TestNewPayloadDoesNotMutateInput(t *testing.T) {
	data := map[string]any{"error": "boom"}
	p := NewPayload(EventFailed, &domain.Job{ID: "job-7", Status: domain.JobStatusFailed}, data, time.Now())
	if len(data) != 1 || p.Data["status"] != "failed" || p.Data["error"] != "boom" {
		t.Fatalf("payload data %+v, input %+v", p.Data, data)
	}
}
