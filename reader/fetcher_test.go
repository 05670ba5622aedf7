package reader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fixturefeed/config"
	"fixturefeed/logger"
)

func testFeedConfig(u string) config.FeedConfig {
	cfg := config.Default().Feed
	cfg.URL = u
	cfg.RateLimit.RequestsPerSecond = 0
	return cfg
}

func TestBustURL(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		param string
		token int64
		want  string
	}{
		{"plain", "https://example.com/feed.csv", "nocache", 42, "https://example.com/feed.csv?nocache=42"},
		{"existing query", "https://example.com/feed.csv?token=abc", "nocache", 7, "https://example.com/feed.csv?nocache=7&token=abc"},
		{"replaces value", "https://example.com/feed.csv?nocache=1", "nocache", 2, "https://example.com/feed.csv?nocache=2"},
		{"no param", "https://example.com/feed.csv", "", 2, "https://example.com/feed.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BustURL(tt.raw, tt.param, tt.token); got != tt.want {
				t.Fatalf("BustURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchHTTPSendsTokenAndAgent(t *testing.T) {
	var gotQuery url.Values
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte("Fixture\nA vs B\n"))
	}))
	defer srv.Close()

	f, err := NewFetcher(context.Background(), testFeedConfig(srv.URL+"/feed.csv"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	data, err := f.Fetch(context.Background(), 12345)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "Fixture\nA vs B\n" {
		t.Fatalf("unexpected body %q", data)
	}
	if gotQuery.Get("nocache") != "12345" {
		t.Fatalf("cache-busting token not sent: %v", gotQuery)
	}
	if gotAgent != "fixturefeed/1.0" {
		t.Fatalf("unexpected user agent %q", gotAgent)
	}
}

func TestFetchHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := NewFetcher(context.Background(), testFeedConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	_, err = f.Fetch(context.Background(), 1)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", te.StatusCode)
	}
}

func TestFetchHTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testFeedConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	f, err := NewFetcher(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	_, err = f.Fetch(context.Background(), 1)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError on timeout, got %v", err)
	}
}

func TestFetchBodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	cfg := testFeedConfig(srv.URL)
	cfg.MaxBodyBytes = 16
	f, err := NewFetcher(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := f.Fetch(context.Background(), 1); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestFetchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.csv")
	if err := os.WriteFile(path, []byte("Fixture\n"), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	f, err := NewFetcher(context.Background(), testFeedConfig("file://"+path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	data, err := f.Fetch(context.Background(), 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "Fixture\n" {
		t.Fatalf("unexpected body %q", data)
	}

	missing, _ := NewFetcher(context.Background(), testFeedConfig("file://"+path+".missing"))
	var te *TransportError
	if _, err := missing.Fetch(context.Background(), 1); !errors.As(err, &te) {
		t.Fatalf("expected TransportError for missing file, got %v", err)
	}
}

type fakeObjects struct {
	bucket, key string
	body        string
	err         error
}

func (f *fakeObjects) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.bucket, f.key = bucket, key
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestFetchS3(t *testing.T) {
	objects := &fakeObjects{body: "Fixture\n"}
	f := &Fetcher{url: "s3://feeds/predictions/latest.csv", objects: objects, log: logger.GetLogger()}

	data, err := f.Fetch(context.Background(), 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "Fixture\n" {
		t.Fatalf("unexpected body %q", data)
	}
	if objects.bucket != "feeds" || objects.key != "predictions/latest.csv" {
		t.Fatalf("unexpected object %s/%s", objects.bucket, objects.key)
	}

	objects.err = errors.New("access denied")
	var te *TransportError
	if _, err := f.Fetch(context.Background(), 1); !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestFetchThrottleHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Fixture\n"))
	}))
	defer srv.Close()

	cfg := testFeedConfig(srv.URL)
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.BurstSize = 1
	f, err := NewFetcher(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := f.Fetch(context.Background(), 1); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var te *TransportError
	if _, err := f.Fetch(ctx, 2); !errors.As(err, &te) || te.Op != "throttle" {
		t.Fatalf("expected throttle TransportError, got %v", err)
	}
}
