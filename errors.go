package scry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrLLM is a model-client failure (marshalling, decoding, refusal). It is a
// fault: the loop that receives it terminates instead of feeding it back to
// the model.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a transport-level failure from a model client. RetryAfter is
// populated from the Retry-After header when the server supplied one, so the
// retry wrapper can honor it.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value, either delay-seconds or
// an HTTP-date. Returns 0 for empty, malformed, or past values.
func ParseRetryAfter(v string) time.Duration {
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
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
