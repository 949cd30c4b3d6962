package runpod

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
)

type responseStub struct {
	status int
	body   string
}

type captureTransport struct {
	requests  []*http.Request
	bodies    []string
	responses map[string]responseStub
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.requests = append(c.requests, req)
	var body string
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	c.bodies = append(c.bodies, body)
	stub, ok := c.responses[req.Method+" "+req.URL.Path]
	if !ok {
		stub = responseStub{status: http.StatusNotFound, body: `{"error":"not found"}`}
	}
	return &http.Response{
		StatusCode: stub.status,
		Body:       io.NopCloser(strings.NewReader(stub.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

func newTestClient(transport *captureTransport) *Client {
	return NewClient(Options{
		APIKey:     "rp-key",
		EndpointID: "ep1",
		BaseURL:    "https://runpod.test/v2",
		HTTPClient: &http.Client{Transport: transport},
	})
}

func TestSubmitSendsRenderedInput(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"POST /v2/ep1/run": {status: 200, body: `{"id":"rp-1","status":"IN_QUEUE"}`},
	}}
	c := newTestClient(transport)
	tpl := pipeline.Template{JobType: domain.JobTypeUpscale, Body: map[string]any{
		"input": map[string]any{"image": "{{input_url}}", "scale": "{{scale}}"},
	}}
	job := &domain.Job{ID: "job-1", Type: domain.JobTypeUpscale, InputURLs: []string{"https://img/a.jpg"}, Params: map[string]any{"scale": 4}}

	resp, err := c.Submit(context.Background(), job, tpl)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if resp.RemoteID != "rp-1" || resp.Status != providers.StatusPending {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got := transport.requests[0].Header.Get("Authorization"); got != "Bearer rp-key" {
		t.Fatalf("Authorization mismatch: got %q", got)
	}
	var sent runRequest
	if err := json.Unmarshal([]byte(transport.bodies[0]), &sent); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if sent.Input["image"] != "https://img/a.jpg" || sent.Input["scale"] != float64(4) {
		t.Fatalf("input mismatch: %#v", sent.Input)
	}
}

func TestSubmitWithoutCredentials(t *testing.T) {
	c := NewClient(Options{})
	_, err := c.Submit(context.Background(), &domain.Job{ID: "job-1"}, pipeline.Template{})
	if domain.KindOf(err) != domain.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPollStatusMapping(t *testing.T) {
	cases := []struct {
		body       string
		wantStatus providers.Status
		wantMsg    string
		outputs    int
	}{
		{`{"id":"rp-1","status":"IN_QUEUE"}`, providers.StatusPending, "IN_QUEUE", 0},
		{`{"id":"rp-1","status":"IN_PROGRESS","output":{"progress":0.4}}`, providers.StatusRunning, "IN_PROGRESS", 0},
		{`{"id":"rp-1","status":"COMPLETED","output":{"images":["https://cdn/a.png","https://cdn/b.png"]}}`, providers.StatusSucceeded, "COMPLETED", 2},
		{`{"id":"rp-1","status":"COMPLETED","output":{"image":"iVBORw0KGgoAAAANSUhEUg=="}}`, providers.StatusSucceeded, "COMPLETED", 1},
		{`{"id":"rp-1","status":"FAILED","error":"CUDA out of memory"}`, providers.StatusFailed, "CUDA out of memory", 0},
		{`{"id":"rp-1","status":"CANCELLED"}`, providers.StatusCancelled, "CANCELLED", 0},
		{`{"id":"rp-1","status":"THROTTLED"}`, providers.StatusPending, "THROTTLED", 0},
	}
	for _, tc := range cases {
		transport := &captureTransport{responses: map[string]responseStub{
			"GET /v2/ep1/status/rp-1": {status: 200, body: tc.body},
		}}
		resp, err := newTestClient(transport).Poll(context.Background(), &domain.Job{ID: "job-1"}, "rp-1")
		if err != nil {
			t.Fatalf("%s: Poll returned error: %v", tc.body, err)
		}
		if resp.Status != tc.wantStatus || resp.Message != tc.wantMsg || len(resp.Outputs) != tc.outputs {
			t.Fatalf("%s: got %+v", tc.body, resp)
		}
	}
}

func TestPollTimedOutIsTransient(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"GET /v2/ep1/status/rp-1": {status: 200, body: `{"id":"rp-1","status":"TIMED_OUT"}`},
	}}
	_, err := newTestClient(transport).Poll(context.Background(), &domain.Job{ID: "job-1"}, "rp-1")
	if !domain.Retryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestPollServerErrorIsTransient(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"GET /v2/ep1/status/rp-1": {status: 503, body: `upstream unavailable`},
	}}
	_, err := newTestClient(transport).Poll(context.Background(), &domain.Job{ID: "job-1"}, "rp-1")
	if !domain.Retryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCancelToleratesMissingJob(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	resp, err := newTestClient(transport).Cancel(context.Background(), &domain.Job{ID: "job-1"}, "rp-1")
	if err != nil || resp.Status != providers.StatusCancelled {
		t.Fatalf("Cancel = %+v, %v", resp, err)
	}
	if transport.requests[0].URL.Path != "/v2/ep1/cancel/rp-1" {
		t.Fatalf("unexpected cancel path %q", transport.requests[0].URL.Path)
	}
}

func TestHealthCheck(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"GET /v2/ep1/health": {status: 200, body: `{"jobs":{"inQueue":0},"workers":{"idle":1,"running":0}}`},
	}}
	if !newTestClient(transport).HealthCheck(context.Background()) {
		t.Fatal("expected healthy endpoint")
	}
	transport.responses["GET /v2/ep1/health"] = responseStub{status: 200, body: `{"workers":{"idle":0,"running":0}}`}
	if newTestClient(transport).HealthCheck(context.Background()) {
		t.Fatal("expected endpoint without workers to be unhealthy")
	}
}
