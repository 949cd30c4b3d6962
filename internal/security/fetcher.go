package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

var ErrHostNotAllowed = errors.New("image host is not allowed")

// maxRedirects bounds how many hops an input download may follow.
const maxRedirects = 5

// Fetcher downloads candidate input images.
type Fetcher struct {
	client    *http.Client
	allowlist map[string]struct{}
	maxBytes  int64
}

// FetcherOptions configures a Fetcher. An empty Allowlist allows any host.
type FetcherOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Allowlist  []string
	MaxBytes   int64
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	var allow map[string]struct{}
	if len(opts.Allowlist) > 0 {
		allow = make(map[string]struct{}, len(opts.Allowlist))
		for _, host := range opts.Allowlist {
			if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
				allow[host] = struct{}{}
			}
		}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultLimits().MaxBytes
	}
	return &Fetcher{client: client, allowlist: allow, maxBytes: maxBytes}
}

// checkURL applies the scheme and host rules to the first URL and to every
// redirect target.
func (f *Fetcher) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.ValidationError("fetch", fmt.Sprintf("input url scheme %q is not allowed", u.Scheme), nil)
	}
	if f.allowlist != nil {
		if _, ok := f.allowlist[strings.ToLower(u.Hostname())]; !ok {
			return domain.ValidationError("fetch", fmt.Sprintf("input host %q is not allowed", u.Hostname()), ErrHostNotAllowed)
		}
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return domain.ValidationError("fetch", fmt.Sprintf("input url redirected more than %d times", maxRedirects), nil)
	}
	return f.checkURL(req.URL)
}

// Fetch downloads rawURL. Bad URLs, disallowed hosts (also as redirect
// targets), oversized bodies and 4xx answers are validation errors; 408, 429,
// 5xx and network failures are transient.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, "", domain.ValidationError("fetch", "input url is malformed", err)
	}
	if err := f.checkURL(u); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", domain.ValidationError("fetch", "input url is malformed", err)
	}
	req.Header.Set("Accept", "image/*")
	client := *f.client
	client.CheckRedirect = f.checkRedirect
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, "", err
		}
		var rejected *domain.Error
		if errors.As(err, &rejected) && rejected.Kind == domain.KindValidation {
			return nil, "", rejected
		}
		return nil, "", domain.TransientError("fetch", "input image could not be downloaded", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", domain.TransientError("fetch", fmt.Sprintf("input image server returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return nil, "", domain.TransientError("fetch", fmt.Sprintf("input image server returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, "", domain.ValidationError("fetch", fmt.Sprintf("input image returned %d", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, "", domain.ValidationError("fetch", fmt.Sprintf("unexpected status %d for input image", resp.StatusCode), nil)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, "", domain.ValidationError("fetch", fmt.Sprintf("image is %d bytes, limit is %d", resp.ContentLength, f.maxBytes), ErrTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", domain.TransientError("fetch", "input image download was interrupted", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", domain.ValidationError("fetch", fmt.Sprintf("image exceeds %d bytes", f.maxBytes), ErrTooLarge)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Guard runs the pre-submission pass on input URLs and the post-completion
// pass on provider outputs.
type Guard struct {
	Fetcher   *Fetcher
	Validator *Validator
	Logger    *infra.Logger
}

// NewGuard wires a fetcher and validator from configuration.
func NewGuard(cfg *infra.Config, logger *infra.Logger) *Guard {
	limits := LimitsFromConfig(cfg)
	opts := FetcherOptions{MaxBytes: limits.MaxBytes}
	if cfg != nil {
		opts.Timeout = cfg.ImageFetchTimeout
		opts.Allowlist = cfg.ImageSourceAllowlist
	}
	return &Guard{
		Fetcher:   NewFetcher(opts),
		Validator: NewValidator(limits, logger),
		Logger:    infra.LoggerOrNop(logger),
	}
}

// CheckInput downloads and validates one input image.
func (g *Guard) CheckInput(ctx context.Context, rawURL string) (Result, error) {
	data, contentType, err := g.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}
	res, err := g.Validator.Validate(data, contentType)
	if err != nil {
		g.Logger.Warn().Err(err).Str("url", rawURL).Msg("security: input rejected")
		return Result{}, err
	}
	return res, nil
}

// CheckOutput validates bytes returned by a provider.
func (g *Guard) CheckOutput(data []byte) (Result, error) {
	return g.Validator.Validate(data, "")
}
