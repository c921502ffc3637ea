package harvest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// sleepRecorder replaces Fetcher.sleep so tests run without waiting.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestFetcher(srv *httptest.Server) (*Fetcher, *sleepRecorder) {
	f := NewFetcher(Config{HTTPClient: srv.Client(), BackoffJitter: -1})
	rec := &sleepRecorder{}
	f.sleep = rec.sleep
	return f, rec
}

// statusSequence serves the given statuses in order, repeating the last one.
func statusSequence(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1)) - 1
		code := statuses[min(n, len(statuses)-1)]
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(code)
		_, _ = w.Write([]byte("BODY"))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t, "image/jpeg", []byte("FAKEIMAGEDATA"))
	f, rec := newTestFetcher(srv)

	resp, err := f.Fetch(context.Background(), srv.URL+"/image.jpg", FetchOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("StatusCode = %d, want 2xx", resp.StatusCode)
	}
	if resp.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", resp.ContentType)
	}
	if string(resp.Body) != "FAKEIMAGEDATA" {
		t.Errorf("Body = %q", resp.Body)
	}
	if n := len(rec.recorded()); n != 0 {
		t.Errorf("slept %d times, want 0", n)
	}
}

func TestFetch_RetriesServerErrorsThenSucceeds(t *testing.T) {
	t.Parallel()

	srv, calls := statusSequence(t, 500, 500, 200)
	f, rec := newTestFetcher(srv)

	resp, err := f.Fetch(context.Background(), srv.URL, FetchOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
	waits := rec.recorded()
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestFetch_ExhaustedReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv, calls := statusSequence(t, 503)
	f, _ := newTestFetcher(srv)

	resp, err := f.Fetch(context.Background(), srv.URL, FetchOpts{})
	if err == nil {
		t.Fatalf("expected error, got response %d", resp.StatusCode)
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T %v, want *StatusError", err, err)
	}
	if se.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", se.StatusCode)
	}
	if got := calls.Load(); got != DefaultFetchRetries {
		t.Errorf("server calls = %d, want %d", got, DefaultFetchRetries)
	}
}

func TestFetch_RetryableStatuses(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusBadGateway} {
		srv, calls := statusSequence(t, code, 200)
		f, _ := newTestFetcher(srv)

		resp, err := f.Fetch(context.Background(), srv.URL, FetchOpts{})
		if err != nil {
			t.Fatalf("status %d: unexpected error: %v", code, err)
		}
		if resp.StatusCode != 200 || calls.Load() != 2 {
			t.Errorf("status %d: got %d after %d calls, want 200 after 2", code, resp.StatusCode, calls.Load())
		}
	}
}

func TestFetch_ForbiddenRetriedThenReturned(t *testing.T) {
	t.Parallel()

	srv, calls := statusSequence(t, 403)
	f, _ := newTestFetcher(srv)

	resp, err := f.Fetch(context.Background(), srv.URL, FetchOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", resp.StatusCode)
	}
	if got := calls.Load(); got != DefaultFetchRetries {
		t.Errorf("server calls = %d, want %d", got, DefaultFetchRetries)
	}
}

func TestFetch_NotFoundNotRetried(t *testing.T) {
	t.Parallel()

	srv, calls := statusSequence(t, 404)
	f, rec := newTestFetcher(srv)

	resp, err := f.Fetch(context.Background(), srv.URL+"/missing.jpg", FetchOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || resp.OK() {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if calls.Load() != 1 || len(rec.recorded()) != 0 {
		t.Errorf("calls = %d, sleeps = %d, want 1 and 0", calls.Load(), len(rec.recorded()))
	}
}

func TestFetch_TransportErrorRetried(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewFetcher(Config{BackoffJitter: -1})
	rec := &sleepRecorder{}
	f.sleep = rec.sleep

	if _, err := f.Fetch(context.Background(), url, FetchOpts{Attempts: 2}); err == nil {
		t.Fatal("expected error from closed server")
	}
	if n := len(rec.recorded()); n != 1 {
		t.Errorf("sleeps = %d, want 1", n)
	}
}

func TestFetch_BadURLNotRetried(t *testing.T) {
	t.Parallel()

	f := NewFetcher(Config{})
	rec := &sleepRecorder{}
	f.sleep = rec.sleep

	if _, err := f.Fetch(context.Background(), "http://[::1", FetchOpts{}); err == nil {
		t.Fatal("expected error for malformed URL")
	}
	if n := len(rec.recorded()); n != 0 {
		t.Errorf("sleeps = %d, want 0", n)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	t.Parallel()

	srv, _ := statusSequence(t, 500)
	f, _ := newTestFetcher(srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, srv.URL, FetchOpts{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestFetch_PoliteDelayBeforeEachAttempt(t *testing.T) {
	t.Parallel()

	srv, _ := statusSequence(t, 500, 200)
	f, rec := newTestFetcher(srv)
	f.float64 = func() float64 { return 0.5 }

	polite := Delay{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	if _, err := f.Fetch(context.Background(), srv.URL, FetchOpts{Polite: polite}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// polite, backoff, polite
	want := []time.Duration{200 * time.Millisecond, time.Second, 200 * time.Millisecond}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFetch_MaxBytesEnforcement(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(strings.Repeat("X", 100)))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		maxBytes int64
		wantErr  bool
	}{
		{"over limit", 10, true},
		{"at limit", 100, false},
	}
	for _, tc := range tests {
		f := NewFetcher(Config{HTTPClient: srv.Client(), MaxBytes: tc.maxBytes})
		f.sleep = func(context.Context, time.Duration) error { return nil }
		calls.Store(0)

		resp, err := f.Fetch(context.Background(), srv.URL+"/big.png", FetchOpts{})
		if tc.wantErr {
			if !errors.Is(err, ErrBodyTooLarge) {
				t.Errorf("%s: err = %v, want ErrBodyTooLarge", tc.name, err)
			}
			if calls.Load() != 1 {
				t.Errorf("%s: server called %d times, want 1", tc.name, calls.Load())
			}
			continue
		}
		if err != nil || len(resp.Body) != 100 {
			t.Errorf("%s: Fetch = %v, %v; want full body", tc.name, resp, err)
		}
	}
}

func TestFetch_HeadersSent(t *testing.T) {
	t.Parallel()

	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	f := NewFetcher(Config{HTTPClient: srv.Client(), UserAgent: "harvest-test/1"})
	hdr := http.Header{"Referer": {"https://example.com/"}}
	if _, err := f.Fetch(context.Background(), srv.URL, FetchOpts{Header: hdr}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := <-got
	if ua := h.Get("User-Agent"); ua != "harvest-test/1" {
		t.Errorf("User-Agent = %q", ua)
	}
	if ref := h.Get("Referer"); ref != "https://example.com/" {
		t.Errorf("Referer = %q", ref)
	}
}

// redirectTransport returns a RoundTripper that rewrites all requests to target.
type redirectTransport string

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = "http"
	req2.URL.Host = strings.TrimPrefix(string(rt), "http://")
	return http.DefaultTransport.RoundTrip(req2)
}

func TestFetch_FinalURLAndMIMEParameterStripping(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t, "Image/JPEG; charset=utf-8", []byte("FAKEIMAGEDATA"))
	client := srv.Client()
	client.Transport = redirectTransport(srv.URL)
	f := NewFetcher(Config{HTTPClient: client})

	resp, err := f.Fetch(context.Background(), "http://example.com/photo.jpg", FetchOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q after stripping, want image/jpeg", resp.ContentType)
	}
	if resp.URL != "http://example.com/photo.jpg" {
		t.Errorf("URL = %q", resp.URL)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		base    time.Duration
		jitter  time.Duration
		r       float64
		want    time.Duration
	}{
		{1, time.Second, 0, 0.9, time.Second},
		{2, time.Second, 0, 0.9, 2 * time.Second},
		{3, time.Second, 0, 0.9, 4 * time.Second},
		{1, time.Second, 300 * time.Millisecond, 0.5, 1150 * time.Millisecond},
		{2, 500 * time.Millisecond, -1, 0.5, time.Second},
	}
	for _, tc := range tests {
		if got := backoffDelay(tc.attempt, tc.base, tc.jitter, tc.r); got != tc.want {
			t.Errorf("backoffDelay(%d, %v, %v, %v) = %v, want %v",
				tc.attempt, tc.base, tc.jitter, tc.r, got, tc.want)
		}
	}
}

func TestMetricsCountRetries(t *testing.T) {
	t.Parallel()

	srv, _ := statusSequence(t, 500, 500, 200)
	f, _ := newTestFetcher(srv)
	f.metrics = newTestMetrics(t)

	if _, err := f.Fetch(context.Background(), srv.URL, FetchOpts{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, f.metrics.fetchRetries); got != 2 {
		t.Errorf("fetch_retries_total = %v, want 2", got)
	}
}
