package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/http/handlers"
	"github.com/CanSsever/qoder-deneme-sub000/internal/orchestrator"
	"github.com/CanSsever/qoder-deneme-sub000/internal/statuscache"
)

type stubJobs struct {
	jobs      map[string]domain.Job
	artifacts map[string][]domain.Artifact
}

func (s *stubJobs) LoadJob(_ context.Context, id string) (*domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (s *stubJobs) ListArtifactsByJob(_ context.Context, id string) ([]domain.Artifact, error) {
	return s.artifacts[id], nil
}

type stubCanceller struct {
	calls []string
}

func (c *stubCanceller) Cancel(_ context.Context, id string) (orchestrator.Result, error) {
	c.calls = append(c.calls, id)
	if id == "ghost" {
		return orchestrator.Result{}, domain.IntegrityError("load job", "job ghost does not exist", domain.ErrNotFound)
	}
	return orchestrator.Result{JobID: id, Status: domain.JobStatusCancelled}, nil
}

type stubProviders struct {
	health map[string]bool
}

func (p stubProviders) Health(context.Context) map[string]bool { return p.health }
func (p stubProviders) Default() string                        { return "comfyui" }

type stubStatus struct {
	status map[string]statuscache.Status
}

func (s stubStatus) Get(_ context.Context, id string) (*statuscache.Status, error) {
	st, ok := s.status[id]
	if !ok {
		return nil, statuscache.ErrMiss
	}
	return &st, nil
}

type stubFiles map[string][]byte

func (f stubFiles) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := f[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func newTestRouter(t *testing.T, app *handlers.App, opts RouterOptions) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(app, opts))
	t.Cleanup(srv.Close)
	return srv
}

func testApp() (*handlers.App, *stubCanceller) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	jobs := &stubJobs{
		jobs: map[string]domain.Job{
			"job-1": {ID: "job-1", Type: domain.JobTypeUpscale, Status: domain.JobStatusSucceeded, Progress: 100, Provider: "mock", CreatedAt: now, UpdatedAt: now},
			"job-2": {ID: "job-2", Type: domain.JobTypeRestoreFace, Status: domain.JobStatusRunning, Progress: 30, UpdatedAt: now},
		},
		artifacts: map[string][]domain.Artifact{
			"job-1": {{ID: "a1", JobID: "job-1", Name: "output", OutputURL: "https://cdn.test/a1.png", StorageKey: "generated/upscale/job-1/output.png", MIMEType: "image/png", CreatedAt: now}},
		},
	}
	canceller := &stubCanceller{}
	return &handlers.App{
		Jobs:      jobs,
		Canceller: canceller,
		Providers: stubProviders{health: map[string]bool{"comfyui": true, "mock": true}},
	}, canceller
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestHealthEndpoints(t *testing.T) {
	app, _ := testApp()
	srv := newTestRouter(t, app, RouterOptions{})

	code, body := getJSON(t, srv.URL+"/v1/healthz")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz %d %v", code, body)
	}
	code, body = getJSON(t, srv.URL+"/v1/providers/health")
	if code != http.StatusOK || body["default"] != "comfyui" {
		t.Fatalf("providers %d %v", code, body)
	}

	app.Providers = stubProviders{health: map[string]bool{"comfyui": false}}
	code, _ = getJSON(t, srv.URL+"/v1/providers/health")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when default provider is down, got %d", code)
	}
}

func TestJobStatusPrefersCache(t *testing.T) {
	app, _ := testApp()
	app.Status = stubStatus{status: map[string]statuscache.Status{
		"job-2": {JobID: "job-2", Status: "running", Progress: 55},
	}}
	srv := newTestRouter(t, app, RouterOptions{})

	code, body := getJSON(t, srv.URL+"/v1/jobs/job-2")
	if code != http.StatusOK || body["source"] != "cache" || body["progress"] != float64(55) {
		t.Fatalf("cached status %d %v", code, body)
	}
	code, body = getJSON(t, srv.URL+"/v1/jobs/job-1")
	if code != http.StatusOK || body["source"] != "store" || body["status"] != "succeeded" {
		t.Fatalf("stored status %d %v", code, body)
	}
	code, _ = getJSON(t, srv.URL+"/v1/jobs/missing")
	if code != http.StatusNotFound {
		t.Fatalf("missing job %d", code)
	}
}

func TestJobArtifacts(t *testing.T) {
	app, _ := testApp()
	srv := newTestRouter(t, app, RouterOptions{})

	code, body := getJSON(t, srv.URL+"/v1/jobs/job-1/artifacts")
	items, _ := body["items"].([]any)
	if code != http.StatusOK || len(items) != 1 {
		t.Fatalf("artifacts %d %v", code, body)
	}
	if items[0].(map[string]any)["output_url"] != "https://cdn.test/a1.png" {
		t.Fatalf("artifact %v", items[0])
	}
}

func TestCancelJob(t *testing.T) {
	app, canceller := testApp()
	srv := newTestRouter(t, app, RouterOptions{CancelRateLimit: 2})

	resp, err := http.Post(srv.URL+"/v1/jobs/job-2/cancel", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["status"] != "cancelled" {
		t.Fatalf("cancel %d %v", resp.StatusCode, body)
	}

	resp, err = http.Post(srv.URL+"/v1/jobs/ghost/cancel", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ghost cancel %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/jobs/job-2/cancel", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.StatusCode)
	}
	if len(canceller.calls) != 2 {
		t.Fatalf("canceller calls %v", canceller.calls)
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generated", "upscale", "job-1")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "output.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	app, _ := testApp()
	srv := newTestRouter(t, app, RouterOptions{StaticDir: dir})

	resp, err := http.Get(srv.URL + "/static/generated/upscale/job-1/output.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(data) != "png-bytes" {
		t.Fatalf("static %d %q", resp.StatusCode, data)
	}
}

func TestStreamRelaysUntilTerminal(t *testing.T) {
	app, _ := testApp()
	app.Hub = handlers.NewHub(nil, nil)
	srv := newTestRouter(t, app, RouterOptions{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?job_id=job-2"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first statuscache.Status
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.JobID != "job-2" || first.Status != "running" {
		t.Fatalf("initial %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for app.Hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	app.Hub.Publish(statuscache.Status{JobID: "other", Status: "running"})
	app.Hub.Publish(statuscache.Status{JobID: "job-2", Status: "succeeded", Progress: 100})

	var next statuscache.Status
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.JobID != "job-2" || next.Status != "succeeded" {
		t.Fatalf("update %+v", next)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after terminal status, got %v", err)
	}
}

func TestJobArchive(t *testing.T) {
	app, _ := testApp()
	app.Files = stubFiles{"generated/upscale/job-1/output.png": []byte("png-bytes")}
	srv := newTestRouter(t, app, RouterOptions{})

	resp, err := http.Get(srv.URL + "/v1/jobs/job-1/artifacts.zip")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/zip" {
		t.Fatalf("archive %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "output.png" {
		t.Fatalf("entries %v", zr.File)
	}

	code, _ := getJSON(t, srv.URL+"/v1/jobs/job-2/artifacts.zip")
	if code != http.StatusNotFound {
		t.Fatalf("job without artifacts %d", code)
	}
}
