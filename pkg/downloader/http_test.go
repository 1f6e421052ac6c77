package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetcher_Success(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Write([]byte("tile payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{UserAgent: "tilevault/1.0"})
	start := time.Now()
	res, err := f.Fetch(context.Background(), srv.URL, Conditional{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(res.Payload) != "tile payload" {
		t.Errorf("payload = %q, want %q", res.Payload, "tile payload")
	}
	if res.NotModified {
		t.Error("NotModified = true, want false")
	}
	if res.ETag != `"abc"` {
		t.Errorf("ETag = %q, want %q", res.ETag, `"abc"`)
	}
	if gotUA != "tilevault/1.0" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "tilevault/1.0")
	}
	if res.Expires.Before(start.Add(59 * time.Minute)) {
		t.Errorf("Expires = %v, want about an hour out", res.Expires)
	}
}

func TestHTTPFetcher_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v2"` {
			w.Header().Set("ETag", `"v2"`)
			w.Header().Set("Cache-Control", "max-age=600")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("full body"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{})
	res, err := f.Fetch(context.Background(), srv.URL, Conditional{ETag: `"v2"`})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.NotModified {
		t.Error("NotModified = false, want true")
	}
	if len(res.Payload) != 0 {
		t.Errorf("payload = %q, want empty on 304", res.Payload)
	}
	if res.ETag != `"v2"` {
		t.Errorf("ETag = %q, want %q", res.ETag, `"v2"`)
	}
	if res.Expires.IsZero() {
		t.Error("Expires not refreshed from the 304 response")
	}
}

func TestHTTPFetcher_SendsIfModifiedSince(t *testing.T) {
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{})
	if _, err := f.Fetch(context.Background(), srv.URL, Conditional{Modified: mod}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if want := mod.Format(http.TimeFormat); got != want {
		t.Errorf("If-Modified-Since = %q, want %q", got, want)
	}
}

func TestHTTPFetcher_StatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"too many requests", http.StatusTooManyRequests, true},
		{"internal error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"not found", http.StatusNotFound, false},
		{"forbidden", http.StatusForbidden, false},
		{"gone", http.StatusGone, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			f := NewHTTPFetcher(HTTPConfig{})
			_, err := f.Fetch(context.Background(), srv.URL, Conditional{})
			if err == nil {
				t.Fatal("Fetch() succeeded, want error")
			}
			if IsTemporary(err) != tc.temporary {
				t.Errorf("IsTemporary(%v) = %v, want %v", err, !tc.temporary, tc.temporary)
			}
		})
	}
}

func TestHTTPFetcher_PayloadCap(t *testing.T) {
	body := strings.Repeat("x", 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{MaxPayloadSize: 1024})
	_, err := f.Fetch(context.Background(), srv.URL, Conditional{})
	if err == nil {
		t.Fatal("Fetch() succeeded, want oversize error")
	}
	if IsTemporary(err) {
		t.Errorf("oversize error = %v, want terminal", err)
	}

	// A payload exactly at the cap is fine.
	exact := NewHTTPFetcher(HTTPConfig{MaxPayloadSize: 2048})
	res, err := exact.Fetch(context.Background(), srv.URL, Conditional{})
	if err != nil {
		t.Fatalf("Fetch() at cap error = %v", err)
	}
	if len(res.Payload) != 2048 {
		t.Errorf("payload size = %d, want 2048", len(res.Payload))
	}
}

func TestHTTPFetcher_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL, Conditional{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestExpiryFrom(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name         string
		cacheControl string
		expires      string
		want         time.Time
	}{
		{"max-age", "max-age=60", "", now.Add(time.Minute)},
		{"max-age with other directives", "public, max-age=300, must-revalidate", "", now.Add(5 * time.Minute)},
		{"no-store wins", "no-store, max-age=60", "", time.Time{}},
		{"no-cache wins", "no-cache", "Wed, 01 May 2024 13:00:00 GMT", time.Time{}},
		{"expires header", "", "Wed, 01 May 2024 13:00:00 GMT", time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)},
		{"max-age wins over expires", "max-age=120", "Wed, 01 May 2024 13:00:00 GMT", now.Add(2 * time.Minute)},
		{"malformed max-age ignored", "max-age=soon", "", time.Time{}},
		{"negative max-age ignored", "max-age=-5", "", time.Time{}},
		{"malformed expires ignored", "", "not a date", time.Time{}},
		{"no headers", "", "", time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := expiryFrom(tc.cacheControl, tc.expires, now)
			if !got.Equal(tc.want) {
				t.Errorf("expiryFrom(%q, %q) = %v, want %v", tc.cacheControl, tc.expires, got, tc.want)
			}
		})
	}
}
