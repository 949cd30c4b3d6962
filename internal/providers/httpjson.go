package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 8 << 20

// JSONCall describes one JSON round trip to a provider API.
type JSONCall struct {
	Provider string
	RemoteID string
	Method   string
	URL      string
	Header   http.Header
	Body     any
}

// DoJSON performs call and decodes a 2xx body into out (when non-nil).
// Non-2xx responses are classified by FromHTTPStatus and transport failures
// by FromTransport. The status code is returned in every case it is known.
func DoJSON(ctx context.Context, client *http.Client, call JSONCall, out any) (int, error) {
	var body io.Reader
	if call.Body != nil {
		buf, err := json.Marshal(call.Body)
		if err != nil {
			return 0, Failure(call.Provider, call.RemoteID, "encode request", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return 0, Failure(call.Provider, call.RemoteID, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, FromTransport(call.Provider, call.RemoteID, fmt.Sprintf("%s %s", call.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, FromTransport(call.Provider, call.RemoteID, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, FromHTTPStatus(call.Provider, call.RemoteID, resp.StatusCode, raw)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, Failure(call.Provider, call.RemoteID, "decode response", err)
		}
	}
	return resp.StatusCode, nil
}
