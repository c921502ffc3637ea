package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Source produces candidates. Implementations should handle their own partial
// failures and return an error only when nothing useful could be collected.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]Candidate, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) ([]Candidate, error)
}

func (s SourceFunc) Name() string { return s.SourceName }

func (s SourceFunc) Collect(ctx context.Context) ([]Candidate, error) { return s.Fn(ctx) }

// Collection is the merged output of CollectAll.
type Collection struct {
	Candidates []Candidate       // in source order, then collection order
	Failures   map[string]string // source name → error text
}

// CollectAll runs every source concurrently. A source that returns an error
// or panics contributes no candidates and is reported in Failures; the other
// sources are unaffected.
func CollectAll(ctx context.Context, sources []Source) Collection {
	results := make([][]Candidate, len(sources))
	var mu sync.Mutex
	failures := make(map[string]string)

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			cands, err := collectIsolated(ctx, src)
			if err != nil {
				slog.Warn("harvest: source failed", "source", src.Name(), "error", err.Error())
				mu.Lock()
				failures[src.Name()] = err.Error()
				mu.Unlock()
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	var all []Candidate
	for _, r := range results {
		all = append(all, r...)
	}
	return Collection{Candidates: all, Failures: failures}
}

func collectIsolated(ctx context.Context, src Source) (cands []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			cands, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	cands, err = src.Collect(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cands {
		if cands[i].Source == "" {
			cands[i].Source = src.Name()
		}
	}
	return cands, nil
}

// UniqueByURL collapses candidates with identical URLs. The last candidate
// seen for a URL wins; the result keeps the order of first appearance.
func UniqueByURL(cands []Candidate) []Candidate {
	index := make(map[string]int, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if i, ok := index[c.URL]; ok {
			out[i] = c
			continue
		}
		index[c.URL] = len(out)
		out = append(out, c)
	}
	return out
}
