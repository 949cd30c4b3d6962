// Package replicate runs predictions on the Replicate hosted model API.
package replicate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
)

// Name is the registry name of the Replicate provider.
const Name = "replicate"

var statuses = providers.StatusTable{
	"starting":   providers.StatusPending,
	"processing": providers.StatusRunning,
	"succeeded":  providers.StatusSucceeded,
	"failed":     providers.StatusFailed,
	"canceled":   providers.StatusCancelled,
	"cancelled":  providers.StatusCancelled,
	"aborted":    providers.StatusCancelled,
}

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// Options configures the client.
type Options struct {
	APIToken     string
	ModelVersion string
	BaseURL      string
	HTTPClient   *http.Client
	// MaxRetries bounds HTTP-level retries of prediction creation.
	MaxRetries     int
	RetryBaseDelay time.Duration
	// SubmitWait bounds the in-submit wait for a fast prediction.
	SubmitWait     time.Duration
	WaitInterval   time.Duration
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// Client implements providers.Provider for Replicate.
type Client struct {
	token          string
	version        string
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
	submitWait     time.Duration
	waitInterval   time.Duration
	downloader     providers.Downloader
	logger         *infra.Logger
	sleep          func(context.Context, time.Duration) error
}

// NewClient constructs a client with defaults.
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
		baseURL = "https://api.replicate.com/v1"
	}
	c := &Client{
		token:          strings.TrimSpace(opts.APIToken),
		version:        strings.TrimSpace(opts.ModelVersion),
		baseURL:        baseURL,
		httpClient:     httpClient,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		submitWait:     opts.SubmitWait,
		waitInterval:   opts.WaitInterval,
		downloader:     providers.Downloader{Client: httpClient, Logger: opts.Logger},
		logger:         infra.LoggerOrNop(opts.Logger),
		sleep:          sleepContext,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryBaseDelay <= 0 {
		c.retryBaseDelay = 500 * time.Millisecond
	}
	if c.submitWait < 0 {
		c.submitWait = 0
	} else if c.submitWait == 0 {
		c.submitWait = 5 * time.Second
	}
	if c.waitInterval <= 0 {
		c.waitInterval = time.Second
	}
	return c
}

func (c *Client) Name() string { return Name }

type prediction struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output any            `json:"output"`
	Error  any            `json:"error"`
	Logs   string         `json:"logs"`
	URLs   map[string]any `json:"urls"`
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// Submit creates the prediction, retrying throttling and server errors with
// exponential backoff, then waits up to SubmitWait for it to finish. A
// prediction still running after that is returned for normal polling.
func (c *Client) Submit(ctx context.Context, job *domain.Job, tpl pipeline.Template) (providers.Response, error) {
	if c.token == "" {
		return providers.Response{}, providers.Misconfigured(Name, "REPLICATE_API_TOKEN is required")
	}
	version := tpl.String("model")
	if version == "" {
		version = c.version
	}
	if version == "" {
		return providers.Response{}, providers.Misconfigured(Name, "no model version configured")
	}
	input := tpl.RenderSection("input", tpl.Vars(job))
	if input == nil {
		input = map[string]any{}
	}

	endpoint := c.baseURL + "/predictions"
	body := createRequest{Version: version, Input: input}
	if owner, model, ok := strings.Cut(version, "/"); ok {
		if _, hash, pinned := strings.Cut(model, ":"); pinned {
			body.Version = hash
		} else {
			endpoint = c.baseURL + "/models/" + url.PathEscape(owner) + "/" + url.PathEscape(model) + "/predictions"
			body.Version = ""
		}
	}

	var created prediction
	if err := c.withRetry(ctx, func() error {
		_, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodPost, "", endpoint, body), &created)
		return err
	}); err != nil {
		return providers.Response{}, err
	}
	if strings.TrimSpace(created.ID) == "" {
		return providers.Response{}, providers.Failure(Name, "", "api returned no prediction id", nil)
	}
	c.logger.Info().Str("job_id", job.ID).Str("remote_id", created.ID).Str("version", version).Msg("replicate: prediction created")

	current := created
	deadline := time.Now().Add(c.submitWait)
	for !statuses.Map(current.Status).Terminal() && time.Now().Before(deadline) {
		if err := c.sleep(ctx, c.waitInterval); err != nil {
			return providers.Response{}, err
		}
		next, err := c.get(ctx, created.ID)
		if err != nil {
			c.logger.Warn().Err(err).Str("remote_id", created.ID).Msg("replicate: wait poll failed")
			break
		}
		current = next
	}
	return toResponse(current), nil
}

func (c *Client) Poll(ctx context.Context, job *domain.Job, remoteID string) (providers.Response, error) {
	if c.token == "" {
		return providers.Response{}, providers.Misconfigured(Name, "REPLICATE_API_TOKEN is required")
	}
	p, err := c.get(ctx, remoteID)
	if err != nil {
		return providers.Response{}, err
	}
	return toResponse(p), nil
}

func (c *Client) get(ctx context.Context, remoteID string) (prediction, error) {
	var p prediction
	_, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodGet, remoteID, c.baseURL+"/predictions/"+url.PathEscape(remoteID), nil), &p)
	if p.ID == "" {
		p.ID = remoteID
	}
	return p, err
}

// Cancel is best effort; finished or unknown predictions still report
// cancelled.
func (c *Client) Cancel(ctx context.Context, job *domain.Job, remoteID string) (providers.Response, error) {
	resp := providers.Response{RemoteID: remoteID, Status: providers.StatusCancelled, Message: "cancelled"}
	if c.token == "" || strings.TrimSpace(remoteID) == "" {
		return resp, nil
	}
	status, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodPost, remoteID, c.baseURL+"/predictions/"+url.PathEscape(remoteID)+"/cancel", nil), nil)
	if err != nil && status != http.StatusNotFound {
		c.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("replicate: cancel request failed")
	}
	return resp, nil
}

func (c *Client) DownloadOutputs(ctx context.Context, remoteID string, outputs map[string]string) (map[string][]byte, error) {
	return c.downloader.Download(ctx, Name, remoteID, outputs)
}

// HealthCheck verifies the token against /account.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if c.token == "" {
		return false
	}
	_, err := providers.DoJSON(ctx, c.httpClient, c.call(http.MethodGet, "", c.baseURL+"/account", nil), nil)
	return err == nil
}

func (c *Client) call(method, remoteID, endpoint string, body any) providers.JSONCall {
	return providers.JSONCall{
		Provider: Name,
		RemoteID: remoteID,
		Method:   method,
		URL:      endpoint,
		Header:   http.Header{"Authorization": []string{"Bearer " + c.token}},
		Body:     body,
	}
}

// withRetry repeats fn while it fails with a transient error, doubling the
// delay after each try.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	delay := c.retryBaseDelay
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err = fn(); err == nil || !domain.Retryable(err) {
			return err
		}
		if attempt == c.maxRetries {
			break
		}
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("replicate: retrying request")
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
	}
	return err
}

func toResponse(p prediction) providers.Response {
	resp := providers.Response{
		RemoteID: p.ID,
		Status:   statuses.Map(p.Status),
		Message:  p.Status,
		Metadata: map[string]any{"native_status": p.Status},
	}
	switch resp.Status {
	case providers.StatusRunning:
		resp.Progress = logProgress(p.Logs)
	case providers.StatusSucceeded:
		resp.Progress = 100
		resp.Outputs = providers.ExtractOutputs(p.Output)
		if len(resp.Outputs) == 0 {
			resp.Status = providers.StatusFailed
			resp.Message = "prediction succeeded without outputs"
		}
	case providers.StatusFailed:
		resp.Message = "prediction failed"
		if msg := strings.TrimSpace(fmt.Sprint(p.Error)); p.Error != nil && msg != "" {
			resp.Message = msg
		}
	}
	return resp
}

// logProgress returns the last percentage printed in the prediction logs.
func logProgress(logs string) int {
	matches := percentPattern.FindAllStringSubmatch(logs, -1)
	if len(matches) == 0 {
		return 0
	}
	p, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0
	}
	return providers.ClampProgress(p)
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
