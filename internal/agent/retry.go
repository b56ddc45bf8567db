package agent

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"time"

	goopenai "github.com/meguminnnnnnnnn/go-openai"
)

// RetryPolicy bounds model invocation attempts for a single agent run.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout bounds each model call; zero leaves it to the transport.
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		InitialBackoff: time.Second,
		MaxBackoff:     6 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// InitialBackoff * 2^(attempt-1), clamped to [InitialBackoff, MaxBackoff].
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if p.MaxBackoff > 0 && wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		return p.MaxBackoff
	}
	return wait
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// statusPattern is the last resort for providers that only report the HTTP
// status in the error text.
var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// IsTransient reports whether a model error may succeed on retry: timeouts,
// connection errors, rate limits and server errors are; bad requests, auth
// failures and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return transientStatus(code)
	}
	return true
}

func transientStatus(code int) bool {
	switch {
	case code == 408, code == 409, code == 429, code >= 500:
		return true
	case code >= 400:
		return false
	}
	return true
}
