package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Conditional carries the validators for a revalidation request. A zero
// Conditional performs an unconditional fetch.
type Conditional struct {
	ETag     string
	Modified time.Time
}

// Result is the outcome of a single origin fetch.
//
// When NotModified is set the origin confirmed the cached copy is still
// valid: Payload is empty and only the refreshed metadata is meaningful.
type Result struct {
	Payload     []byte
	ETag        string
	Modified    time.Time
	Expires     time.Time
	NotModified bool
}

// Fetcher retrieves a resource payload from an origin. Implementations are
// selected by locator scheme and must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cond Conditional) (*Result, error)
}

// TemporaryError marks a failure worth retrying: connection errors,
// timeouts, 5xx and 429 responses. Any other fetch error is terminal and
// fails the resource immediately.
type TemporaryError struct {
	Err error
}

// Error implements the error interface.
func (e *TemporaryError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TemporaryError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err is a retryable fetch failure.
func IsTemporary(err error) bool {
	var t *TemporaryError
	return errors.As(err, &t)
}

// expiryFrom derives the expiry instant from origin caching headers.
// Cache-Control max-age wins over Expires; no-store and no-cache yield a
// zero time, which the store treats as immediately stale.
func expiryFrom(cacheControl, expires string, now time.Time) time.Time {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		if directive == "no-store" || directive == "no-cache" {
			return time.Time{}
		}
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			secs, err := strconv.Atoi(v)
			if err != nil || secs < 0 {
				continue
			}
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	if expires != "" {
		if t, err := http.ParseTime(expires); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseHTTPTime parses an HTTP date header, returning the zero time when
// absent or malformed.
func parseHTTPTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// statusError formats a non-success origin status for error messages.
func statusError(status string) error {
	return fmt.Errorf("origin returned %s", status)
}
