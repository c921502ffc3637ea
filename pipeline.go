package harvest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const (
	ledgerFileName     = "dedup.sqlite"
	perceptualFileName = "perceptual.sqlite"
)

// Pipeline owns the stores of one root directory and processes candidates
// against them. Open one Pipeline per root; Run may be called repeatedly.
type Pipeline struct {
	cfg     Config
	layout  *Layout
	fetcher *Fetcher
	ledger  *Ledger
	index   *PerceptualIndex
	events  *EventLog
	metrics *Metrics
}

// Open prepares the layout under cfg.Root and opens the stores and event
// logs. Any error here is fatal for the run.
func Open(ctx context.Context, cfg Config) (*Pipeline, error) {
	if cfg.Root == "" {
		return nil, errors.New("harvest: Config.Root is required")
	}
	cfg.defaults()

	layout, err := NewLayout(cfg.Root)
	if err != nil {
		return nil, err
	}
	ledger, err := OpenLedger(ctx, layout.MetaPath(ledgerFileName))
	if err != nil {
		return nil, err
	}
	index, err := OpenPerceptualIndex(ctx, layout.MetaPath(perceptualFileName), cfg.UpgradeFactor)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	events, err := OpenEventLog(layout)
	if err != nil {
		ledger.Close()
		index.Close()
		return nil, err
	}

	metrics := NewMetrics(cfg.Registerer)
	fetcher := NewFetcher(cfg)
	fetcher.metrics = metrics

	return &Pipeline{
		cfg:     cfg,
		layout:  layout,
		fetcher: fetcher,
		ledger:  ledger,
		index:   index,
		events:  events,
		metrics: metrics,
	}, nil
}

// Close releases the stores and event logs.
func (p *Pipeline) Close() error {
	return errors.Join(p.events.Close(), p.index.Close(), p.ledger.Close())
}

// Layout returns the on-disk layout the pipeline writes to.
func (p *Pipeline) Layout() *Layout { return p.layout }

// Fetcher returns the pipeline's fetcher so sources can share its client and
// retry policy.
func (p *Pipeline) Fetcher() *Fetcher { return p.fetcher }

// RunSources collects candidates from every source and runs them. A failing
// source is logged and reported; it does not affect the others.
func (p *Pipeline) RunSources(ctx context.Context, sources ...Source) RunReport {
	started := p.cfg.now()
	col := CollectAll(ctx, sources)

	for _, name := range slices.Sorted(maps.Keys(col.Failures)) {
		p.events.SourceFailure(p.cfg.now(), name, errors.New(col.Failures[name]))
		p.metrics.sourceFailure(name)
	}

	report := p.Run(ctx, col.Candidates)
	report.StartedAt = started
	if len(col.Failures) > 0 {
		report.SourceFailures = col.Failures
	}
	return report
}

// Run processes candidates with cfg.Workers workers and returns once every
// unique URL has exactly one outcome. Candidates sharing a URL are collapsed
// first.
func (p *Pipeline) Run(ctx context.Context, cands []Candidate) RunReport {
	report := RunReport{
		RunID:           uuid.NewString(),
		StartedAt:       p.cfg.now(),
		CandidatesTotal: len(cands),
	}

	unique := UniqueByURL(cands)
	report.UniqueURLs = len(unique)

	queue := make(chan Candidate, len(unique))
	for _, c := range unique {
		queue <- c
	}
	close(queue)

	agg := NewAggregator(p.metrics)
	var wg sync.WaitGroup
	for range min(p.cfg.Workers, max(len(unique), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				agg.Record(c.Source, p.handle(ctx, c))
			}
		}()
	}
	wg.Wait()

	report.Counts = agg.Counts()
	report.OKBySource = agg.OKBySource()
	report.FinishedAt = p.cfg.now()

	slog.Info("harvest: run finished",
		"run_id", report.RunID,
		"unique_urls", report.UniqueURLs,
		"ok", report.OK(),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report
}

// handle runs one candidate to its outcome and logs non-OK outcomes.
// A panic is reported through OnPanic and counted as a dedup engine error.
func (p *Pipeline) handle(ctx context.Context, c Candidate) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			if p.cfg.OnPanic != nil {
				p.cfg.OnPanic("candidate", r)
			}
			slog.Error("harvest: candidate panicked", "url", c.URL, "panic", fmt.Sprint(r))
			o = OutcomeDedupEngineError
			p.events.Outcome(p.cfg.now(), c, o, fmt.Sprintf("panic: %v", r))
		}
	}()

	o, detail := p.process(ctx, c)
	if o != OutcomeOK {
		slog.Debug("harvest: candidate rejected", "url", c.URL, "outcome", string(o), "detail", detail)
		p.events.Outcome(p.cfg.now(), c, o, detail)
	}
	return o
}

// process implements the per-candidate stages:
//  1. Fetch with retries and the source's politeness delay
//  2. Gate on media type, decodability and short side
//  3. Exact dedup on the sha256 of the body
//  4. Perceptual dedup, which persists the file when admitted
//  5. Ledger record, items log, bucket copies
//
// Faults in the dedup stores fail open: the image is still persisted and the
// outcome is OutcomeDedupEngineError instead of OutcomeOK.
func (p *Pipeline) process(ctx context.Context, c Candidate) (Outcome, string) {
	resp, err := p.fetcher.Fetch(ctx, c.URL, FetchOpts{Polite: p.cfg.politeDelay(c.Source)})
	if err != nil {
		return OutcomeDownloadFail, err.Error()
	}
	if !resp.OK() {
		return OutcomeDownloadFail, fmt.Sprintf("status=%d", resp.StatusCode)
	}

	info, err := Gate(resp.Body, resp.ContentType, p.cfg.MinShortSide)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			return rej.Outcome, rej.Detail
		}
		return OutcomeImageDecodeFail, err.Error()
	}

	sum := sha256.Sum256(resp.Body)
	hash := hex.EncodeToString(sum[:])

	var engineErrs []error
	seen, err := p.ledger.Has(ctx, hash)
	switch {
	case err != nil:
		slog.Warn("harvest: ledger lookup failed, continuing", "url", c.URL, "error", err.Error())
		engineErrs = append(engineErrs, err)
	case seen:
		return OutcomeDuplicateExact, "sha256=" + hash
	}

	now := p.cfg.now()
	ext := GuessExtension(c.URL, resp.ContentType, info.Format)
	dst := p.layout.CanonicalPath(now.In(p.cfg.Location), c.Source, hash, ext)
	persist := func() error { return p.layout.Write(dst, resp.Body) }

	verdict, err := p.index.Evaluate(ctx, resp.Body, info, dst, persist)
	var persistErr *PersistError
	switch {
	case errors.As(err, &persistErr):
		return OutcomeDedupEngineError, err.Error()
	case err != nil:
		slog.Warn("harvest: perceptual dedup failed, storing anyway", "url", c.URL, "error", err.Error())
		engineErrs = append(engineErrs, err)
		if werr := persist(); werr != nil {
			return OutcomeDedupEngineError, errors.Join(append(engineErrs, werr)...).Error()
		}
	case verdict.Decision == DecisionDuplicate:
		return OutcomeDuplicatePerceptual, "match=" + verdict.OldPath
	case verdict.Decision == DecisionUpgrade && verdict.OldPath != dst:
		if err := p.layout.Remove(verdict.OldPath); err != nil {
			slog.Warn("harvest: remove replaced file", "path", verdict.OldPath, "error", err.Error())
		}
		if err := p.layout.RemoveFromBuckets(verdict.OldPath); err != nil {
			slog.Warn("harvest: remove replaced bucket copies", "path", verdict.OldPath, "error", err.Error())
		}
		slog.Debug("harvest: perceptual upgrade", "old", verdict.OldPath, "new", dst)
	}

	if err := p.ledger.Record(ctx, hash, now); err != nil {
		slog.Warn("harvest: ledger record failed", "url", c.URL, "error", err.Error())
		engineErrs = append(engineErrs, err)
	}

	p.events.Item(now, Item{
		Candidate:     c,
		SavedPath:     dst,
		Info:          info,
		SHA256:        hash,
		ContentType:   resp.ContentType,
		ContentLength: len(resp.Body),
		Credit:        ExtractCredit(resp.Body),
	})

	buckets := Classify(info.Width, info.Height, int64(len(resp.Body)))
	if _, err := p.layout.CopyToBuckets(dst, buckets); err != nil {
		slog.Warn("harvest: bucket copy failed", "path", dst, "error", err.Error())
	}

	if len(engineErrs) > 0 {
		return OutcomeDedupEngineError, errors.Join(engineErrs...).Error()
	}
	return OutcomeOK, ""
}
