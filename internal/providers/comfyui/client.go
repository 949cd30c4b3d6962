// Package comfyui drives a self-hosted ComfyUI server: workflow graphs are
// queued through /prompt and completion is read from /history.
package comfyui

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
)

// Name is the registry name of the ComfyUI provider.
const Name = "comfyui"

// progressWhileRunning is reported while the prompt executes; ComfyUI only
// streams step progress over its websocket.
const progressWhileRunning = 50

var statuses = providers.StatusTable{
	"pending":     providers.StatusPending,
	"queued":      providers.StatusPending,
	"running":     providers.StatusRunning,
	"executing":   providers.StatusRunning,
	"success":     providers.StatusSucceeded,
	"error":       providers.StatusFailed,
	"interrupted": providers.StatusCancelled,
}

// Options configures the client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// Client implements providers.Provider against the ComfyUI REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	downloader providers.Downloader
	logger     *infra.Logger
}

// NewClient constructs a client with defaults for a local server.
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
		baseURL = "http://127.0.0.1:8188"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		downloader: providers.Downloader{Client: httpClient, Logger: opts.Logger},
		logger:     infra.LoggerOrNop(opts.Logger),
	}
}

func (c *Client) Name() string { return Name }

type promptRequest struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id,omitempty"`
}

type promptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// Submit queues the rendered workflow graph. The remote id is the prompt id;
// the queue number is kept in metadata.
func (c *Client) Submit(ctx context.Context, job *domain.Job, tpl pipeline.Template) (providers.Response, error) {
	graph := tpl.RenderSection("graph", tpl.Vars(job))
	if len(graph) == 0 {
		return providers.Response{}, providers.Misconfigured(Name, fmt.Sprintf("pipeline %q has no graph", tpl.JobType))
	}
	var out promptResponse
	_, err := providers.DoJSON(ctx, c.httpClient, providers.JSONCall{
		Provider: Name,
		Method:   http.MethodPost,
		URL:      c.baseURL + "/prompt",
		Body:     promptRequest{Prompt: graph, ClientID: job.ID},
	}, &out)
	if err != nil {
		return providers.Response{}, err
	}
	if len(out.NodeErrors) > 0 {
		return providers.Response{}, providers.Failure(Name, out.PromptID, fmt.Sprintf("workflow rejected: %v", nodeNames(out.NodeErrors)), nil)
	}
	if strings.TrimSpace(out.PromptID) == "" {
		return providers.Response{}, providers.Failure(Name, "", "server returned no prompt id", nil)
	}
	c.logger.Info().Str("job_id", job.ID).Str("remote_id", out.PromptID).Int("queue_number", out.Number).Msg("comfyui: prompt queued")
	return providers.Response{
		RemoteID: out.PromptID,
		Status:   providers.StatusPending,
		Message:  "queued",
		Metadata: map[string]any{"queue_number": out.Number, "output_node": tpl.String("output_node")},
	}, nil
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Poll reads /history first and falls back to /queue while the prompt has
// not finished.
func (c *Client) Poll(ctx context.Context, job *domain.Job, remoteID string) (providers.Response, error) {
	var history map[string]historyEntry
	if _, err := providers.DoJSON(ctx, c.httpClient, providers.JSONCall{
		Provider: Name,
		RemoteID: remoteID,
		Method:   http.MethodGet,
		URL:      c.baseURL + "/history/" + url.PathEscape(remoteID),
	}, &history); err != nil {
		return providers.Response{}, err
	}
	if entry, ok := history[remoteID]; ok {
		return c.fromHistory(remoteID, entry), nil
	}

	state, position, err := c.queueState(ctx, remoteID)
	if err != nil {
		return providers.Response{}, err
	}
	resp := providers.Response{RemoteID: remoteID, Status: statuses.Map(state), Message: state}
	if resp.Status == providers.StatusRunning {
		resp.Progress = progressWhileRunning
	}
	if position >= 0 {
		resp.Metadata = map[string]any{"queue_position": position}
	}
	return resp, nil
}

func (c *Client) fromHistory(remoteID string, entry historyEntry) providers.Response {
	native := entry.Status.StatusStr
	if native == "" && entry.Status.Completed {
		native = "success"
	}
	status := statuses.Map(native)
	resp := providers.Response{RemoteID: remoteID, Status: status, Message: native}
	switch status {
	case providers.StatusSucceeded:
		resp.Progress = 100
		resp.Outputs = c.outputURLs(entry)
		if len(resp.Outputs) == 0 {
			resp.Status = providers.StatusFailed
			resp.Message = "workflow finished without images"
		}
	case providers.StatusFailed:
		resp.Message = executionError(entry.Status.Messages)
	}
	return resp
}

func (c *Client) outputURLs(entry historyEntry) map[string]string {
	nodes := make([]string, 0, len(entry.Outputs))
	for node := range entry.Outputs {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	out := map[string]string{}
	for _, node := range nodes {
		for i, img := range entry.Outputs[node].Images {
			if img.Filename == "" || img.Type == "temp" {
				continue
			}
			q := url.Values{}
			q.Set("filename", img.Filename)
			q.Set("subfolder", img.Subfolder)
			q.Set("type", img.Type)
			out[fmt.Sprintf("node%s_%d", node, i)] = c.baseURL + "/view?" + q.Encode()
		}
	}
	if len(out) == 1 {
		for _, v := range out {
			return map[string]string{providers.DefaultOutputName: v}
		}
	}
	return out
}

type queueResponse struct {
	Running [][]any `json:"queue_running"`
	Pending [][]any `json:"queue_pending"`
}

// queueState reports "running", "pending" with a queue position, or "unknown"
// when the prompt is in neither list.
func (c *Client) queueState(ctx context.Context, remoteID string) (string, int, error) {
	var q queueResponse
	if _, err := providers.DoJSON(ctx, c.httpClient, providers.JSONCall{
		Provider: Name,
		RemoteID: remoteID,
		Method:   http.MethodGet,
		URL:      c.baseURL + "/queue",
	}, &q); err != nil {
		return "", -1, err
	}
	for _, item := range q.Running {
		if queuedID(item) == remoteID {
			return "running", 0, nil
		}
	}
	for i, item := range q.Pending {
		if queuedID(item) == remoteID {
			return "pending", i, nil
		}
	}
	return "unknown", -1, nil
}

// Cancel removes a pending prompt or interrupts a running one. Failures are
// logged; the result is always cancelled.
func (c *Client) Cancel(ctx context.Context, job *domain.Job, remoteID string) (providers.Response, error) {
	state, _, err := c.queueState(ctx, remoteID)
	if err != nil {
		c.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("comfyui: queue lookup before cancel failed")
	}
	call := providers.JSONCall{Provider: Name, RemoteID: remoteID, Method: http.MethodPost}
	switch state {
	case "running":
		call.URL = c.baseURL + "/interrupt"
	case "pending":
		call.URL = c.baseURL + "/queue"
		call.Body = map[string]any{"delete": []string{remoteID}}
	}
	if call.URL != "" {
		if _, err := providers.DoJSON(ctx, c.httpClient, call, nil); err != nil {
			c.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("comfyui: cancel request failed")
		}
	}
	jobID := ""
	if job != nil {
		jobID = job.ID
	}
	c.logger.Info().Str("job_id", jobID).Str("remote_id", remoteID).Str("state", state).Msg("comfyui: cancelled")
	return providers.Response{RemoteID: remoteID, Status: providers.StatusCancelled, Message: "cancelled"}, nil
}

func (c *Client) DownloadOutputs(ctx context.Context, remoteID string, outputs map[string]string) (map[string][]byte, error) {
	return c.downloader.Download(ctx, Name, remoteID, outputs)
}

// HealthCheck calls /system_stats.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := providers.DoJSON(ctx, c.httpClient, providers.JSONCall{
		Provider: Name,
		Method:   http.MethodGet,
		URL:      c.baseURL + "/system_stats",
	}, nil)
	return err == nil
}

func queuedID(item []any) string {
	if len(item) < 2 {
		return ""
	}
	id, _ := item[1].(string)
	return id
}

func nodeNames(nodeErrors map[string]any) []string {
	names := make([]string, 0, len(nodeErrors))
	for k := range nodeErrors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// executionError pulls the exception message out of ComfyUI's status
// messages, which are [event, payload] pairs.
func executionError(messages []any) string {
	for _, m := range messages {
		pair, ok := m.([]any)
		if !ok || len(pair) < 2 || pair[0] != "execution_error" {
			continue
		}
		if payload, ok := pair[1].(map[string]any); ok {
			if msg, ok := payload["exception_message"].(string); ok && strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
		}
	}
	return "workflow execution failed"
}
