package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

// DefaultMaxOutputBytes bounds a single downloaded output.
const DefaultMaxOutputBytes int64 = 64 << 20

// Downloader fetches provider outputs over http(s) or from data: URIs.
type Downloader struct {
	Client   *http.Client
	MaxBytes int64
	// Header is applied to http(s) requests, e.g. provider auth.
	Header http.Header
	Logger *infra.Logger
}

// Download fetches every named output. Failed names are logged and omitted;
// an error is returned only when no output could be fetched.
func (d Downloader) Download(ctx context.Context, provider, remoteID string, outputs map[string]string) (map[string][]byte, error) {
	if len(outputs) == 0 {
		return nil, Failure(provider, remoteID, "no outputs to download", nil)
	}
	logger := infra.LoggerOrNop(d.Logger)
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make(map[string][]byte, len(outputs))
	var lastErr error
	for _, name := range names {
		data, err := d.fetch(ctx, outputs[name])
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			lastErr = err
			logger.Warn().Err(err).Str("provider", provider).Str("remote_id", remoteID).Str("output", name).Msg("providers: output download failed")
			continue
		}
		result[name] = data
	}
	if len(result) == 0 {
		return nil, Transient(provider, remoteID, "could not download any output", lastErr)
	}
	return result, nil
}

func (d Downloader) fetch(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	if strings.HasPrefix(strings.ToLower(location), "data:") {
		data, err := DecodeDataURI(location)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("output exceeds %d bytes", limit)
		}
		return data, nil
	}
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("unsupported output location %q", location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("output exceeds %d bytes", limit)
	}
	return data, nil
}

// DecodeDataURI decodes a base64 or percent-encoded data: URI.
func DecodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "DATA:")
	}
	if !ok {
		return nil, errors.New("not a data uri")
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return nil, errors.New("malformed data uri")
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data uri: %w", err)
		}
		return data, nil
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return []byte(decoded), nil
}
