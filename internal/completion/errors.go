package completion

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Upstream failure kinds. Every error returned by Client.Complete matches
// exactly one of these with errors.Is.
var (
	// ErrUpstreamRejected means the service refused the request (4xx other
	// than 429). Retrying the same request will not help.
	ErrUpstreamRejected = errors.New("completion service rejected the request")

	// ErrRateLimited means the service returned 429.
	ErrRateLimited = errors.New("completion service rate limited the request")

	// ErrUpstreamUnavailable covers 5xx, timeouts, network failures and
	// malformed success bodies.
	ErrUpstreamUnavailable = errors.New("completion service unavailable")
)

// UpstreamError carries the status and retry hint behind a failure kind.
type UpstreamError struct {
	Kind       error
	StatusCode int           // 0 when no response was received
	RetryAfter time.Duration // 0 when the service gave no hint
	Err        error         // transport or decode cause, if any
}

func (e *UpstreamError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Retryable reports whether err is a kind worth retrying later.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamUnavailable)
}

// RetryAfter returns the service's retry hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.RetryAfter > 0 {
		return ue.RetryAfter, true
	}
	return 0, false
}

// kindForStatus maps a non-2xx status to a failure kind.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrUpstreamUnavailable
	default:
		return ErrUpstreamRejected
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
