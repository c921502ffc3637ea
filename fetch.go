package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// FetchOpts configures one resilient fetch.
type FetchOpts struct {
	Attempts      int           // total attempts (default: cfg.FetchRetries)
	BackoffBase   time.Duration // default: cfg.BackoffBase
	BackoffJitter time.Duration // default: cfg.BackoffJitter, negative disables
	Polite        Delay         // slept before each attempt
	Header        http.Header   // extra request headers
}

// Response is a fully read HTTP response.
type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string // media type without parameters, lowercased
	Body        []byte
}

// OK reports whether the response has a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrBodyTooLarge is returned when a response body exceeds Config.MaxBytes.
// It is not retried.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is returned when every attempt ended in a retryable HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("retryable http status %d: %s", e.StatusCode, e.URL)
}

// Fetcher performs HTTP GETs with bounded retry and exponential backoff.
// It knows nothing about images.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	timeout   time.Duration
	attempts  int
	base      time.Duration
	jitter    time.Duration

	sleep   func(ctx context.Context, d time.Duration) error
	float64 func() float64
	metrics *Metrics
}

// NewFetcher builds a Fetcher from cfg.
func NewFetcher(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client:    cfg.HTTPClient,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		timeout:   cfg.Timeout,
		attempts:  cfg.FetchRetries,
		base:      cfg.BackoffBase,
		jitter:    cfg.BackoffJitter,
		sleep:     sleepCtx,
		float64:   rand.Float64,
	}
}

// Fetch GETs url. Connection failures, timeouts, 5xx, 429 and 408 are retried;
// 403 is retried only while attempts remain and is otherwise returned like any
// other 4xx response for the caller to classify. After the last attempt the
// last error is returned.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts FetchOpts) (*Response, error) {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = f.attempts
	}
	base := opts.BackoffBase
	if base <= 0 {
		base = f.base
	}
	jitter := opts.BackoffJitter
	if jitter == 0 {
		jitter = f.jitter
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if opts.Polite.Max > 0 {
			if err := f.sleep(ctx, f.uniform(opts.Polite.Min, opts.Polite.Max)); err != nil {
				return nil, err
			}
		}

		resp, err := f.once(ctx, url, opts.Header)
		if err == nil {
			switch {
			case retryableStatus(resp.StatusCode):
				err = &StatusError{URL: url, StatusCode: resp.StatusCode}
			case resp.StatusCode == http.StatusForbidden && attempt < attempts:
				err = &StatusError{URL: url, StatusCode: resp.StatusCode}
			default:
				return resp, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			return nil, err
		}

		lastErr = err
		if attempt < attempts {
			f.metrics.retry()
			wait := backoffDelay(attempt, base, jitter, f.float64())
			slog.Debug("harvest: fetch retry", "url", url, "attempt", attempt, "wait", wait, "error", err.Error())
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// requestError marks failures that no retry can fix.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func (f *Fetcher) once(ctx context.Context, url string, header http.Header) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req) //nolint:gosec // G704: URL comes from a source
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &requestError{err: fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, f.maxBytes)}
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		Body:        data,
	}, nil
}

func (f *Fetcher) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(f.float64()*float64(hi-lo))
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// backoffDelay returns base*2^(attempt-1) plus r*jitter, r in [0,1).
func backoffDelay(attempt int, base, jitter time.Duration, r float64) time.Duration {
	d := base << (attempt - 1)
	if jitter > 0 {
		d += time.Duration(r * float64(jitter))
	}
	return d
}

// mediaType strips MIME parameters: "image/jpeg; charset=utf-8" → "image/jpeg".
func mediaType(ct string) string {
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
