package harvest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration read by LoadConfig. Every field can be
// overridden from the environment (HARVEST_* variables).
type FileConfig struct {
	Root                     string    `yaml:"root"`
	WorkerCount              int       `yaml:"worker_count"`
	MinShortSidePx           int       `yaml:"min_short_side_px"`
	FetchRetries             int       `yaml:"fetch_retries"`
	BackoffBaseSeconds       float64   `yaml:"backoff_base_seconds"`
	BackoffJitterSeconds     *float64  `yaml:"backoff_jitter_seconds"` // 0 disables jitter
	PerceptualUpgradeFactor  float64   `yaml:"perceptual_upgrade_factor"`
	PoliteDelaySeconds       []float64 `yaml:"polite_delay_seconds"`        // [min, max] before image fetches
	SourcePoliteDelaySeconds []float64 `yaml:"source_polite_delay_seconds"` // [min, max] before source requests
	UserAgent                string    `yaml:"user_agent"`
	Timezone                 string    `yaml:"timezone"`

	SeedFile         string   `yaml:"seed_file"`
	WikimediaQueries []string `yaml:"wikimedia_queries"`
}

// LoadConfig reads the YAML file at path (skipped when path is empty or the
// file does not exist) and applies environment overrides.
func LoadConfig(path string) (FileConfig, error) {
	fc := FileConfig{
		SourcePoliteDelaySeconds: []float64{0.8, 1.6},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return FileConfig{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	fc.Root = getenv("HARVEST_ROOT", fc.Root)
	fc.WorkerCount = getenvInt("HARVEST_WORKERS", fc.WorkerCount)
	fc.MinShortSidePx = getenvInt("HARVEST_MIN_SHORT_SIDE_PX", fc.MinShortSidePx)
	fc.FetchRetries = getenvInt("HARVEST_FETCH_RETRIES", fc.FetchRetries)
	fc.BackoffBaseSeconds = getenvFloat("HARVEST_BACKOFF_BASE_SECONDS", fc.BackoffBaseSeconds)
	if v := os.Getenv("HARVEST_BACKOFF_JITTER_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			fc.BackoffJitterSeconds = &f
		}
	}
	fc.PerceptualUpgradeFactor = getenvFloat("HARVEST_UPGRADE_FACTOR", fc.PerceptualUpgradeFactor)
	fc.UserAgent = getenv("HARVEST_USER_AGENT", fc.UserAgent)
	fc.Timezone = getenv("HARVEST_TIMEZONE", fc.Timezone)
	fc.SeedFile = getenv("HARVEST_SEED_FILE", fc.SeedFile)
	if v := os.Getenv("HARVEST_WIKIMEDIA_QUERIES"); v != "" {
		fc.WikimediaQueries = splitList(v)
	}

	if _, err := fc.delay(fc.PoliteDelaySeconds); err != nil {
		return FileConfig{}, fmt.Errorf("polite_delay_seconds: %w", err)
	}
	if _, err := fc.delay(fc.SourcePoliteDelaySeconds); err != nil {
		return FileConfig{}, fmt.Errorf("source_polite_delay_seconds: %w", err)
	}
	return fc, nil
}

// Config converts the file settings into a pipeline Config. Unset values are
// left zero so Config.defaults applies.
func (fc FileConfig) Config() (Config, error) {
	cfg := Config{
		Root:          fc.Root,
		Workers:       fc.WorkerCount,
		MinShortSide:  fc.MinShortSidePx,
		FetchRetries:  fc.FetchRetries,
		BackoffBase:   seconds(fc.BackoffBaseSeconds),
		UpgradeFactor: fc.PerceptualUpgradeFactor,
		UserAgent:     fc.UserAgent,
	}
	if fc.BackoffJitterSeconds != nil {
		cfg.BackoffJitter = seconds(*fc.BackoffJitterSeconds)
		if cfg.BackoffJitter == 0 {
			cfg.BackoffJitter = -1
		}
	}
	cfg.PoliteDelay, _ = fc.delay(fc.PoliteDelaySeconds)
	if fc.Timezone != "" {
		loc, err := time.LoadLocation(fc.Timezone)
		if err != nil {
			return Config{}, fmt.Errorf("timezone: %w", err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

// SourcePolite returns the pause used before source API and page requests.
func (fc FileConfig) SourcePolite() Delay {
	d, _ := fc.delay(fc.SourcePoliteDelaySeconds)
	return d
}

func (fc FileConfig) delay(v []float64) (Delay, error) {
	switch len(v) {
	case 0:
		return Delay{}, nil
	case 1:
		return Delay{Min: seconds(v[0]), Max: seconds(v[0])}, nil
	case 2:
		if v[1] < v[0] {
			return Delay{}, fmt.Errorf("max %.2f < min %.2f", v[1], v[0])
		}
		return Delay{Min: seconds(v[0]), Max: seconds(v[1])}, nil
	default:
		return Delay{}, fmt.Errorf("want [min, max], got %d values", len(v))
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
