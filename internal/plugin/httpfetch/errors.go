package httpfetch

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/trakbridge/trakbridge/internal/plugin"
)

// MapError translates a transport error or non-2xx response into the
// plugin package's error taxonomy (spec.md §4.5 "Errors"). resp may be nil
// if err is a transport-level failure; callers must close a non-nil
// resp.Body themselves before calling MapError on a nil transport err.
func MapError(ctx context.Context, resp *http.Response, err error) error {
	if err != nil {
		if ctx.Err() != nil {
			return plugin.Cancelled
		}
		return &plugin.Unreachable{Cause: err}
	}
	if resp == nil {
		return &plugin.Unreachable{Cause: errors.New("httpfetch: nil response")}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &plugin.AuthError{Message: "upstream rejected credentials (status " + strconv.Itoa(resp.StatusCode) + ")"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &plugin.RateLimited{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &plugin.Unreachable{Cause: errors.New("upstream returned status " + strconv.Itoa(resp.StatusCode))}
	case resp.StatusCode >= 400:
		return &plugin.MalformedResponse{Cause: errors.New("upstream returned status " + strconv.Itoa(resp.StatusCode))}
	}
	return nil
}

// retryAfter parses the Retry-After header as seconds, defaulting to 30s
// if absent or malformed.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 30 * time.Second
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 30 * time.Second
	}
	return time.Duration(secs) * time.Second
}
