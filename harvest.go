// Package harvest collects image candidates from independent sources, fetches
// them with retries, filters them by quality, removes exact and perceptual
// duplicates, and stores the survivors in a classified directory layout.
package harvest

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultMinShortSide is the minimum length in pixels of an image's shorter side.
	DefaultMinShortSide = 720
	// DefaultFetchRetries is the number of fetch attempts per candidate.
	DefaultFetchRetries = 3
	// DefaultUpgradeFactor is the area ratio a perceptual match must exceed to replace the stored file.
	DefaultUpgradeFactor = 1.1
	// DefaultWorkers is the size of the worker pool.
	DefaultWorkers = 5

	// DefaultBackoffBase is the wait after the first failed fetch attempt; it doubles per attempt.
	DefaultBackoffBase = time.Second
	// DefaultBackoffJitter is the upper bound of the random wait added to each backoff.
	DefaultBackoffJitter = 300 * time.Millisecond

	defaultMaxBytes  = 64 << 20 // 64MB
	defaultTimeout   = 25 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; go-harvest/1.0)"
)

// Candidate is an image URL proposed by a source. It is immutable once queued.
type Candidate struct {
	URL       string // direct image URL
	Source    string // source tag, e.g. "wikimedia"
	Query     string // optional search query that produced the candidate
	OriginURL string // optional page the image was found on
	License   string // optional Creative Commons license URL of the origin page
}

// Delay is a uniformly jittered pause range. The zero value means no pause.
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// Config holds all tunables and dependencies injected by the consumer.
type Config struct {
	Root string // required: root of the persisted layout

	Workers       int           // default: DefaultWorkers (5)
	MinShortSide  int           // default: DefaultMinShortSide (720)
	FetchRetries  int           // default: DefaultFetchRetries (3)
	BackoffBase   time.Duration // default: 1s
	BackoffJitter time.Duration // default: 300ms, negative disables jitter
	UpgradeFactor float64       // default: DefaultUpgradeFactor (1.1)

	HTTPClient *http.Client  // optional (nil = client with Timeout)
	UserAgent  string        // default: "Mozilla/5.0 (compatible; go-harvest/1.0)"
	MaxBytes   int64         // max response body size (default: 64MB)
	Timeout    time.Duration // per-attempt timeout (default: 25s)

	// PoliteDelay is slept before every fetch attempt. SourcePoliteDelay
	// overrides it per source tag.
	PoliteDelay       Delay
	SourcePoliteDelay map[string]Delay

	// Location is used for the date directory of persisted files (default: time.Local).
	Location *time.Location

	// Registerer receives the pipeline metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// Optional callbacks for logging.
	OnPanic func(tag string, r any)

	now func() time.Time
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MinShortSide <= 0 {
		c.MinShortSide = DefaultMinShortSide
	}
	if c.FetchRetries <= 0 {
		c.FetchRetries = DefaultFetchRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffJitter == 0 {
		c.BackoffJitter = DefaultBackoffJitter
	}
	if c.UpgradeFactor <= 0 {
		c.UpgradeFactor = DefaultUpgradeFactor
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = defaultMaxBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// politeDelay returns the pause configured for source.
func (c *Config) politeDelay(source string) Delay {
	if d, ok := c.SourcePoliteDelay[source]; ok {
		return d
	}
	return c.PoliteDelay
}
