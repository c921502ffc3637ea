package harvest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// SeedSource reads URLs from a text file, one per line. Blank lines and lines
// starting with # are ignored. Direct image URLs become candidates as-is; any
// other URL is fetched as a page and its og:image is used instead.
type SeedSource struct {
	SourceName string   // default: "seed"
	Path       string   // seed file; a missing file yields no candidates
	Fetcher    *Fetcher // used for page URLs
	Opts       FetchOpts
}

func (s *SeedSource) Name() string {
	if s.SourceName == "" {
		return "seed"
	}
	return s.SourceName
}

// Collect reads the seed file and resolves every seed. A seed that cannot be
// resolved is logged and skipped.
func (s *SeedSource) Collect(ctx context.Context) ([]Candidate, error) {
	seeds, err := readSeeds(s.Path)
	if err != nil {
		return nil, err
	}

	var cands []Candidate
	for _, seed := range seeds {
		if IsDirectImageURL(seed) {
			cands = append(cands, Candidate{URL: seed, Source: s.Name(), OriginURL: seed})
			continue
		}
		img, license, err := s.resolve(ctx, seed)
		if err != nil {
			if ctx.Err() != nil {
				return cands, ctx.Err()
			}
			slog.Warn("harvest: seed skipped", "source", s.Name(), "seed", seed, "error", err.Error())
			continue
		}
		cands = append(cands, Candidate{URL: img, Source: s.Name(), OriginURL: seed, License: license})
	}
	return cands, nil
}

// resolve fetches a page seed and returns its og:image URL and the page's
// Creative Commons license, if any.
func (s *SeedSource) resolve(ctx context.Context, page string) (string, string, error) {
	if s.Fetcher == nil {
		return "", "", errors.New("no fetcher for page seed")
	}
	resp, err := s.Fetcher.Fetch(ctx, page, s.Opts)
	if err != nil {
		return "", "", err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return "", "", fmt.Errorf("login required or blocked: status=%d", resp.StatusCode)
	}
	if !resp.OK() {
		return "", "", fmt.Errorf("status=%d", resp.StatusCode)
	}

	body := string(resp.Body)
	og := ExtractOGImageURL(body)
	if og == "" {
		return "", "", errors.New("og:image not found")
	}
	img := resolveURL(resp.URL, og)
	if img == "" {
		return "", "", fmt.Errorf("og:image not http: %q", og)
	}
	if IsPlaceholderImageURL(img) {
		return "", "", fmt.Errorf("og:image is a placeholder: %s", img)
	}
	return img, ExtractCCLicense(body), nil
}

func readSeeds(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seeds: %w", err)
	}

	var seeds []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seeds: %w", err)
	}
	return seeds, nil
}
