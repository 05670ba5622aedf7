package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"fixturefeed/config"
	"fixturefeed/logger"
)

// TransportError reports that the feed could not be retrieved. It is fatal
// for the refresh cycle; nothing retries it.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrBodyTooLarge is wrapped in a TransportError when the feed exceeds the
// configured size limit.
var ErrBodyTooLarge = errors.New("feed body exceeds size limit")

// objectGetter fetches one object from a bucket. Implemented by s3Source.
type objectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Fetcher downloads the raw feed bytes from an http(s), s3 or file URL.
type Fetcher struct {
	url      string
	param    string
	maxBytes int64
	client   *http.Client
	limiter  *rate.Limiter
	objects  objectGetter
	log      *logger.Log
}

// NewFetcher builds a fetcher from the feed section of the configuration.
// The S3 client is only created for s3:// URLs.
func NewFetcher(ctx context.Context, cfg config.FeedConfig) (*Fetcher, error) {
	log := logger.GetLogger()

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}

	rps := cfg.RateLimit.RequestsPerSecond
	burst := cfg.RateLimit.BurstSize
	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	f := &Fetcher{
		url:      cfg.URL,
		param:    cfg.CacheBustParam,
		maxBytes: cfg.MaxBodyBytes,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: userAgentTransport{
				agent: cfg.UserAgent,
				base:  http.DefaultTransport,
			},
		},
		limiter: limiter,
		log:     log,
	}

	if parsed.Scheme == "s3" {
		src, err := newS3Source(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		f.objects = src
	}

	log.WithComponent("fetcher").WithFields(logger.Fields{
		"scheme":     parsed.Scheme,
		"host":       parsed.Host,
		"timeout":    cfg.Timeout,
		"rate_limit": rps,
	}).Info("feed fetcher initialized")

	return f, nil
}

// URL returns the configured feed location without any busting parameter.
func (f *Fetcher) URL() string {
	return f.url
}

// Fetch performs exactly one read of the feed. token identifies the refresh
// window and is appended to http(s) URLs so caches between us and the origin
// treat every window as a distinct resource.
func (f *Fetcher) Fetch(ctx context.Context, token int64) ([]byte, error) {
	log := f.log.WithComponent("fetcher").WithFields(logger.Fields{"token": token})

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "throttle", URL: f.url, Err: err}
		}
	}

	start := time.Now()
	parsed, err := url.Parse(f.url)
	if err != nil {
		return nil, &TransportError{Op: "parse", URL: f.url, Err: err}
	}

	var data []byte
	switch parsed.Scheme {
	case "http", "https":
		data, err = f.fetchHTTP(ctx, BustURL(f.url, f.param, token))
	case "s3":
		data, err = f.fetchS3(ctx, parsed)
	case "file":
		data, err = f.fetchFile(parsed)
	default:
		err = &TransportError{Op: "fetch", URL: f.url, Err: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}
	if err != nil {
		log.WithError(err).Warn("feed fetch failed")
		return nil, err
	}

	logger.IncrementFeedFetch(len(data))
	logger.LogStageTiming(log, "fetcher", "fetch", time.Since(start), logger.Fields{"bytes": len(data)})
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Op: "request", URL: target, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "get", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{Op: "get", URL: target, StatusCode: resp.StatusCode}
	}

	return f.readBody(resp.Body, target)
}

func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL) ([]byte, error) {
	if f.objects == nil {
		return nil, &TransportError{Op: "get_object", URL: f.url, Err: errors.New("s3 client not configured")}
	}
	body, err := f.objects.GetObject(ctx, u.Host, trimKey(u.Path))
	if err != nil {
		return nil, &TransportError{Op: "get_object", URL: f.url, Err: err}
	}
	defer body.Close()
	return f.readBody(body, f.url)
}

func (f *Fetcher) fetchFile(u *url.URL) ([]byte, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &TransportError{Op: "open", URL: f.url, Err: err}
	}
	defer file.Close()
	return f.readBody(file, f.url)
}

func (f *Fetcher) readBody(r io.Reader, target string) ([]byte, error) {
	limit := f.maxBytes
	if limit <= 0 {
		return readAll(r, target)
	}
	data, err := readAll(io.LimitReader(r, limit+1), target)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &TransportError{Op: "read", URL: target, Err: ErrBodyTooLarge}
	}
	return data, nil
}

func readAll(r io.Reader, target string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: target, Err: err}
	}
	return data, nil
}

// BustURL appends param=token to raw, keeping any query it already has.
// raw is returned untouched when it cannot be parsed or param is empty.
func BustURL(raw, param string, token int64) string {
	if param == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(param, strconv.FormatInt(token, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func trimKey(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}
