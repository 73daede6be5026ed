// Package httpfetch provides the shared HTTP client built-in plugins use to
// reach their upstream APIs. It wraps github.com/hashicorp/go-retryablehttp
// the way the teacher's artifact/gitlab client does, but with retries
// disabled: spec.md §4.5 "fetch... MUST respect ctx cancellation; no
// retries (the worker handles retries)" places retry policy at the Stream
// Worker, not the transport.
package httpfetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client is a single-attempt HTTP client with sane timeouts, shared across
// built-in plugin Fetch/TestConnection calls.
type Client struct {
	inner *retryablehttp.Client
}

// DefaultTimeout bounds one HTTP round trip (spec.md §6 "plugin fetch
// timeout").
const DefaultTimeout = 30 * time.Second

// New constructs a Client with retries disabled and no internal logging
// (the caller logs via internal/logging, keeping one log sink per spec.md
// §1.1).
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	// Hand 429/5xx responses back to the caller instead of the library's
	// default "giving up" error, so MapError can classify the status and
	// read Retry-After. The body is closed here, since MapError's callers
	// return before closing it on an error status.
	rc.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return resp, err
	}
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	return &Client{inner: rc}
}

// Get issues a single-attempt GET, returning the raw response body. The
// caller is responsible for mapping non-2xx statuses and transport errors
// to the plugin package's error taxonomy.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.inner.Do(req)
}

// Post issues a single-attempt POST with the given body.
func (c *Client) Post(ctx context.Context, url string, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.inner.Do(req)
}
