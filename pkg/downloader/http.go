package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxPayloadSize caps a single fetched payload at 64 MiB. Map
// resources are small; anything larger is a misbehaving origin, not data
// worth caching.
const DefaultMaxPayloadSize int64 = 64 * 1024 * 1024

// HTTPConfig configures the HTTP origin fetcher.
type HTTPConfig struct {
	// UserAgent is sent with every request.
	UserAgent string

	// MaxPayloadSize rejects payloads larger than this many bytes.
	// Default: DefaultMaxPayloadSize.
	MaxPayloadSize int64

	// Client overrides the HTTP client. Default: http.DefaultClient.
	// Per-request deadlines come from the caller's context, not from
	// Client.Timeout.
	Client *http.Client
}

// HTTPFetcher fetches resources from http and https origins with
// conditional revalidation support.
type HTTPFetcher struct {
	client         *http.Client
	userAgent      string
	maxPayloadSize int64
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTP origin fetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTPFetcher{
		client:         cfg.Client,
		userAgent:      cfg.UserAgent,
		maxPayloadSize: cfg.MaxPayloadSize,
	}
}

// Fetch performs a single GET against the origin. When cond carries
// validators they are sent as If-None-Match / If-Modified-Since, and a 304
// response yields a Result with NotModified set and refreshed expiry.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, cond Conditional) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request for %q: %w", url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}
	if !cond.Modified.IsZero() {
		req.Header.Set("If-Modified-Since", cond.Modified.UTC().Format(http.TimeFormat))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TemporaryError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	now := time.Now()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Result{
			NotModified: true,
			ETag:        resp.Header.Get("ETag"),
			Modified:    parseHTTPTime(resp.Header.Get("Last-Modified")),
			Expires:     expiryFrom(resp.Header.Get("Cache-Control"), resp.Header.Get("Expires"), now),
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TemporaryError{Err: statusError(resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, statusError(resp.Status)
	}

	// Read one byte past the cap so an exactly-at-limit payload is
	// distinguishable from an oversized one.
	payload, err := io.ReadAll(io.LimitReader(resp.Body, f.maxPayloadSize+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TemporaryError{Err: fmt.Errorf("reading response body: %w", err)}
	}
	if int64(len(payload)) > f.maxPayloadSize {
		return nil, fmt.Errorf("payload exceeds %d byte limit", f.maxPayloadSize)
	}

	return &Result{
		Payload:  payload,
		ETag:     resp.Header.Get("ETag"),
		Modified: parseHTTPTime(resp.Header.Get("Last-Modified")),
		Expires:  expiryFrom(resp.Header.Get("Cache-Control"), resp.Header.Get("Expires"), now),
	}, nil
}
