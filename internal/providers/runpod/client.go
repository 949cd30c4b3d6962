// Package runpod submits jobs to a RunPod serverless endpoint.
package runpod

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
)

// Name is the registry name of the RunPod provider.
const Name = "runpod"

var statuses = providers.StatusTable{
	"in_queue":    providers.StatusPending,
	"in_progress": providers.StatusRunning,
	"completed":   providers.StatusSucceeded,
	"failed":      providers.StatusFailed,
	"cancelled":   providers.StatusCancelled,
	"timed_out":   providers.StatusFailed,
}

// Options configures the client.
type Options struct {
	APIKey         string
	EndpointID     string
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// Client implements providers.Provider for RunPod serverless.
type Client struct {
	apiKey     string
	endpointID string
	baseURL    string
	httpClient *http.Client
	downloader providers.Downloader
	logger     *infra.Logger
}

// NewClient constructs a client. Missing credentials surface on first use as
// configuration errors.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.ai/v2"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		endpointID: strings.TrimSpace(opts.EndpointID),
		baseURL:    baseURL,
		httpClient: httpClient,
		downloader: providers.Downloader{Client: httpClient, Logger: opts.Logger},
		logger:     infra.LoggerOrNop(opts.Logger),
	}
}

func (c *Client) Name() string { return Name }

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.endpointID != ""
}

type runRequest struct {
	Input map[string]any `json:"input"`
}

type jobStatus struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Output        any    `json:"output"`
	Error         any    `json:"error"`
	DelayTime     int64  `json:"delayTime"`
	ExecutionTime int64  `json:"executionTime"`
}

func (c *Client) Submit(ctx context.Context, job *domain.Job, tpl pipeline.Template) (providers.Response, error) {
	if !c.HasCredentials() {
		return providers.Response{}, providers.Misconfigured(Name, "RUNPOD_API_KEY and RUNPOD_ENDPOINT_ID are required")
	}
	input := tpl.RenderSection("input", tpl.Vars(job))
	if input == nil {
		input = map[string]any{}
	}
	if workflow := tpl.RenderSection("graph", tpl.Vars(job)); workflow != nil {
		if _, set := input["workflow"]; !set {
			input["workflow"] = workflow
		}
	}
	var out jobStatus
	if _, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodPost, "", "/run", runRequest{Input: input}), &out); err != nil {
		return providers.Response{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return providers.Response{}, providers.Failure(Name, "", "endpoint returned no job id", nil)
	}
	c.logger.Info().Str("job_id", job.ID).Str("remote_id", out.ID).Str("status", out.Status).Msg("runpod: job submitted")
	resp := c.toResponse(out)
	resp.Progress = 0
	if resp.Status.Terminal() {
		// synchronous workers may finish within the run call
		return resp, nil
	}
	resp.Status = providers.StatusPending
	return resp, nil
}

// Poll reads /status/{id}. A TIMED_OUT job is reported as a transient error
// so the attempt can be retried; FAILED is an explicit provider failure.
func (c *Client) Poll(ctx context.Context, job *domain.Job, remoteID string) (providers.Response, error) {
	if !c.HasCredentials() {
		return providers.Response{}, providers.Misconfigured(Name, "RUNPOD_API_KEY and RUNPOD_ENDPOINT_ID are required")
	}
	var out jobStatus
	if _, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodGet, remoteID, "/status/"+url.PathEscape(remoteID), nil), &out); err != nil {
		return providers.Response{}, err
	}
	if out.ID == "" {
		out.ID = remoteID
	}
	if strings.EqualFold(out.Status, "TIMED_OUT") {
		return providers.Response{}, providers.Transient(Name, remoteID, "remote execution timed out", nil)
	}
	return c.toResponse(out), nil
}

func (c *Client) toResponse(out jobStatus) providers.Response {
	resp := providers.Response{
		RemoteID: out.ID,
		Status:   statuses.Map(out.Status),
		Message:  out.Status,
		Metadata: map[string]any{
			"native_status":     out.Status,
			"delay_time_ms":     out.DelayTime,
			"execution_time_ms": out.ExecutionTime,
		},
	}
	switch resp.Status {
	case providers.StatusRunning:
		resp.Progress = outputProgress(out.Output)
	case providers.StatusSucceeded:
		resp.Progress = 100
		resp.Outputs = extractOutputs(out.Output)
		if len(resp.Outputs) == 0 {
			resp.Status = providers.StatusFailed
			resp.Message = "job completed without outputs"
		}
	case providers.StatusFailed:
		resp.Message = errorMessage(out.Error)
	}
	return resp
}

// Cancel tolerates jobs that already finished or are unknown to the endpoint.
func (c *Client) Cancel(ctx context.Context, job *domain.Job, remoteID string) (providers.Response, error) {
	resp := providers.Response{RemoteID: remoteID, Status: providers.StatusCancelled, Message: "cancelled"}
	if !c.HasCredentials() || strings.TrimSpace(remoteID) == "" {
		return resp, nil
	}
	status, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodPost, remoteID, "/cancel/"+url.PathEscape(remoteID), nil), nil)
	if err != nil && status != http.StatusNotFound {
		c.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("runpod: cancel request failed")
	}
	return resp, nil
}

func (c *Client) DownloadOutputs(ctx context.Context, remoteID string, outputs map[string]string) (map[string][]byte, error) {
	return c.downloader.Download(ctx, Name, remoteID, outputs)
}

// HealthCheck calls /health; any worker able to pick up jobs counts as
// healthy.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.HasCredentials() {
		return false
	}
	var out struct {
		Workers map[string]int `json:"workers"`
	}
	if _, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodGet, "", "/health", nil), &out); err != nil {
		return false
	}
	if out.Workers == nil {
		return true
	}
	return out.Workers["idle"]+out.Workers["running"]+out.Workers["ready"]+out.Workers["initializing"] > 0
}

func (c *Client) call(method, remoteID, path string, body any) providers.JSONCall {
	return providers.JSONCall{
		Provider: Name,
		RemoteID: remoteID,
		Method:   method,
		URL:      c.baseURL + "/" + url.PathEscape(c.endpointID) + path,
		Header:   http.Header{"Authorization": []string{"Bearer " + c.apiKey}},
		Body:     body,
	}
}

// extractOutputs accepts URLs and data URIs anywhere in the output, and raw
// base64 images under the usual worker keys.
func extractOutputs(output any) map[string]string {
	if found := providers.ExtractOutputs(output); len(found) > 0 {
		return found
	}
	m, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]string{}
	for _, key := range []string{"image", "image_base64", "images"} {
		switch v := m[key].(type) {
		case string:
			if isBase64(v) {
				out[providers.DefaultOutputName] = "data:image/png;base64," + v
			}
		case []any:
			for i, item := range v {
				if s, ok := item.(string); ok && isBase64(s) {
					out[fmt.Sprintf("%s_%d", providers.DefaultOutputName, i)] = "data:image/png;base64," + s
				}
			}
		}
		if len(out) > 0 {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isBase64(s string) bool {
	if len(s) < 16 {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func outputProgress(output any) int {
	m, ok := output.(map[string]any)
	if !ok {
		return 0
	}
	if p, ok := m["progress"].(float64); ok {
		if p > 0 && p <= 1 {
			p *= 100
		}
		return providers.ClampProgress(int(p))
	}
	return 0
}

func errorMessage(v any) string {
	switch e := v.(type) {
	case string:
		if strings.TrimSpace(e) != "" {
			return strings.TrimSpace(e)
		}
	case map[string]any:
		for _, key := range []string{"error_message", "message", "error"} {
			if s, ok := e[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return "job failed"
}
