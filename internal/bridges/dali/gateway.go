package dali

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Gateway REST and stream endpoints.
const (
	loginPath    = "/api/v1/auth/login"
	refreshPath  = "/api/v1/auth/refresh"
	instancePath = "/api/v1/instance"
	streamPath   = "/api/v1/stream/instance-values"

	// DefaultRequestTimeout bounds every REST call to the gateway.
	DefaultRequestTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a gateway response body is read.
	maxResponseBytes = 4 << 20

	// maxErrorSnippet caps the body excerpt quoted in error messages.
	maxErrorSnippet = 256
)

// The gateway speaks plain HTTP and is addressed as host[:port].
func gatewayURL(serverURL, path string) string {
	return "http://" + serverURL + path
}

func streamURL(serverURL string) string {
	return "ws://" + serverURL + streamPath
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doJSON sends in (if non-nil) as a JSON body and decodes a 2xx response
// into out (if non-nil). The returned status is zero when no response was
// received.
func doJSON(ctx context.Context, client *http.Client, method, url, bearer string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet)) //nolint:errcheck // best-effort excerpt
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("gateway responded: %s", msg)
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes)) //nolint:errcheck // drain for keep-alive
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return resp.StatusCode, nil
}
