package plugin

import (
	"errors"
	"fmt"
	"time"
)

// Cancelled is returned by Fetch/TestConnection when ctx was cancelled
// before or during the call (spec.md §4.5 "Errors").
var Cancelled = errors.New("plugin: cancelled")

// AuthError indicates the upstream rejected the configured credentials.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return fmt.Sprintf("plugin: auth error: %s", e.Message) }

// RateLimited indicates the upstream asked the caller to back off.
// RetryAfter is the advised wait, honored by the Stream Worker capped at
// 5x poll_interval (spec.md §4.7 step 2).
type RateLimited struct {
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("plugin: rate limited, retry after %s", e.RetryAfter)
}

// Unreachable indicates a transport-level failure reaching the upstream.
type Unreachable struct {
	Cause error
}

func (e *Unreachable) Error() string { return fmt.Sprintf("plugin: unreachable: %v", e.Cause) }
func (e *Unreachable) Unwrap() error { return e.Cause }

// MalformedResponse indicates the upstream returned data the plugin could
// not parse.
type MalformedResponse struct {
	Cause error
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("plugin: malformed response: %v", e.Cause)
}
func (e *MalformedResponse) Unwrap() error { return e.Cause }

// ConfigError indicates one field in the plugin configuration is invalid,
// distinct from the FieldError slice returned by ValidateConfig since it
// can surface from Fetch/TestConnection too (e.g. a credential missing at
// call time rather than at save time).
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("plugin: config error on %q: %s", e.Field, e.Message)
}

// IsRetryableByWorker reports whether the Stream Worker should retry this
// error within the current iteration rather than just recording it
// (spec.md §4.7 step 2: RateLimited retries once after sleeping;
// Unreachable/MalformedResponse back off up to 3 attempts).
func IsRetryableByWorker(err error) bool {
	var rl *RateLimited
	var unreachable *Unreachable
	var malformed *MalformedResponse
	return errors.As(err, &rl) || errors.As(err, &unreachable) || errors.As(err, &malformed)
}
