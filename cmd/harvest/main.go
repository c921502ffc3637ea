// Command harvest runs one collection batch: it gathers candidates from the
// configured sources, runs them through the pipeline and records the run in
// meta/status.json. The exit code is 0 (ok), 1 (degraded) or 2 (error).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	harvest "github.com/anatolykoptev/go-harvest"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "harvest.yaml", "YAML config file")
		seedFile    = flag.String("seeds", "", "seed URL file (overrides seed_file)")
		reorganize  = flag.Bool("reorganize", false, "re-classify stored images and exit")
		showStatus  = flag.Bool("status", false, "print meta/status.json and exit")
		metricsFile = flag.String("metrics-file", "", "write Prometheus metrics to this textfile after the run")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	fc, err := harvest.LoadConfig(*configPath)
	if err != nil {
		slog.Error("harvest: load config", "error", err.Error())
		os.Exit(harvest.ExitError)
	}
	if *seedFile != "" {
		fc.SeedFile = *seedFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *showStatus:
		os.Exit(printStatus(fc.Root))
	case *reorganize:
		stats, err := harvest.Reorganize(ctx, fc.Root)
		if err != nil {
			slog.Error("harvest: reorganize", "error", err.Error())
			os.Exit(harvest.ExitError)
		}
		slog.Info("harvest: reorganize finished", "processed", stats.Processed, "copied", stats.Copied, "skipped", stats.Skipped)
		os.Exit(harvest.ExitOK)
	}

	os.Exit(run(ctx, fc, *metricsFile))
}

func run(ctx context.Context, fc harvest.FileConfig, metricsFile string) int {
	cfg, err := fc.Config()
	if err != nil {
		return fail(fc.Root, err)
	}
	reg := prometheus.NewRegistry()
	cfg.Registerer = reg
	cfg.OnPanic = func(tag string, r any) {
		slog.Error("harvest: recovered panic", "tag", tag, "panic", fmt.Sprint(r))
	}

	p, err := harvest.Open(ctx, cfg)
	if err != nil {
		return fail(fc.Root, err)
	}
	defer p.Close()

	opts := harvest.FetchOpts{Polite: fc.SourcePolite()}
	var sources []harvest.Source
	if fc.SeedFile != "" {
		sources = append(sources, &harvest.SeedSource{Path: fc.SeedFile, Fetcher: p.Fetcher(), Opts: opts})
	}
	if len(fc.WikimediaQueries) > 0 {
		sources = append(sources, &harvest.WikimediaSource{Queries: fc.WikimediaQueries, Fetcher: p.Fetcher(), Opts: opts})
	}
	if len(sources) == 0 {
		slog.Warn("harvest: no sources configured")
	}

	report := p.RunSources(ctx, sources...)

	st := harvest.NewStatus(report)
	st.MinShortSide = cfg.MinShortSide
	st, err = harvest.WriteStatus(harvest.StatusPath(p.Layout().Root()), st)
	if err != nil {
		slog.Warn("harvest: write status", "error", err.Error())
	}
	if st.ConsecutiveDegraded >= 3 {
		slog.Warn("harvest: repeated degraded runs", "consecutive", st.ConsecutiveDegraded)
	}

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			slog.Warn("harvest: write metrics", "error", err.Error())
		}
	}

	slog.Info("harvest: batch finished",
		"run_id", report.RunID,
		"candidates", report.CandidatesTotal,
		"unique_urls", report.UniqueURLs,
		"ok", report.OK(),
		"exit", report.ExitCode(),
	)
	return report.ExitCode()
}

// fail records a run that could not start and returns ExitError.
func fail(root string, err error) int {
	slog.Error("harvest: fatal", "error", err.Error())
	if root != "" {
		st := harvest.Status{LastRun: time.Now(), LastExitCode: harvest.ExitError, Error: err.Error()}
		if _, werr := harvest.WriteStatus(harvest.StatusPath(root), st); werr != nil {
			slog.Warn("harvest: write status", "error", werr.Error())
		}
	}
	return harvest.ExitError
}

func printStatus(root string) int {
	st, ok, err := harvest.ReadStatus(harvest.StatusPath(root))
	if err != nil {
		slog.Error("harvest: read status", "error", err.Error())
		return harvest.ExitError
	}
	if !ok {
		fmt.Println("no runs recorded")
		return harvest.ExitOK
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return harvest.ExitError
	}
	return st.LastExitCode
}
