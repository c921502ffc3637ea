package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultWikimediaEndpoint = "https://commons.wikimedia.org/w/api.php"
	defaultWikimediaLimit    = 50
)

// WikimediaSource searches Wikimedia Commons for bitmap files.
type WikimediaSource struct {
	Queries  []string
	Fetcher  *Fetcher
	Opts     FetchOpts
	Endpoint string // default: Commons API
	Limit    int    // results per query (default: 50)
}

func (w *WikimediaSource) Name() string { return "wikimedia" }

type commonsResponse struct {
	Query struct {
		Pages map[string]commonsPage `json:"pages"`
	} `json:"query"`
}

type commonsPage struct {
	Title     string `json:"title"`
	Index     int    `json:"index"`
	ImageInfo []struct {
		URL  string `json:"url"`
		Mime string `json:"mime"`
		Size int64  `json:"size"`
	} `json:"imageinfo"`
}

// Collect runs every query. A failed query is logged and skipped; an error is
// returned only when every query failed.
func (w *WikimediaSource) Collect(ctx context.Context) ([]Candidate, error) {
	if w.Fetcher == nil {
		return nil, errors.New("wikimedia: no fetcher")
	}

	var (
		cands []Candidate
		errs  []error
	)
	for _, q := range w.Queries {
		found, err := w.search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return cands, ctx.Err()
			}
			slog.Warn("harvest: wikimedia query failed", "query", q, "error", err.Error())
			errs = append(errs, fmt.Errorf("query %q: %w", q, err))
			continue
		}
		cands = append(cands, found...)
	}
	if len(errs) > 0 && len(errs) == len(w.Queries) {
		return nil, errors.Join(errs...)
	}
	return cands, nil
}

func (w *WikimediaSource) search(ctx context.Context, q string) ([]Candidate, error) {
	resp, err := w.Fetcher.Fetch(ctx, w.searchURL(q), w.Opts)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("status=%d", resp.StatusCode)
	}

	var data commonsResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	pages := make([]commonsPage, 0, len(data.Query.Pages))
	for _, p := range data.Query.Pages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	var cands []Candidate
	for _, p := range pages {
		if len(p.ImageInfo) == 0 {
			continue
		}
		u := p.ImageInfo[0].URL
		if !strings.HasPrefix(u, "http") {
			continue
		}
		c := Candidate{URL: u, Source: w.Name(), Query: q}
		if p.Title != "" {
			c.OriginURL = "https://commons.wikimedia.org/wiki/" + url.PathEscape(p.Title)
		}
		cands = append(cands, c)
	}
	return cands, nil
}

func (w *WikimediaSource) searchURL(q string) string {
	endpoint := w.Endpoint
	if endpoint == "" {
		endpoint = defaultWikimediaEndpoint
	}
	limit := w.Limit
	if limit <= 0 {
		limit = defaultWikimediaLimit
	}
	params := url.Values{
		"action":       {"query"},
		"format":       {"json"},
		"generator":    {"search"},
		"gsrsearch":    {"filetype:bitmap " + q},
		"gsrnamespace": {"6"},
		"gsrlimit":     {strconv.Itoa(limit)},
		"prop":         {"imageinfo"},
		"iiprop":       {"url|mime|size"},
	}
	return endpoint + "?" + params.Encode()
}
