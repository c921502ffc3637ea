package harvest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Process exit codes for a run.
const (
	ExitOK       = 0 // the run produced a meaningful outcome
	ExitDegraded = 1 // the run finished but had nothing to work on
	ExitError    = 2 // the run could not start or crashed
)

const statusFileName = "status.json"

// RunReport summarizes one pipeline run. It is built once, after all workers
// have finished.
type RunReport struct {
	RunID           string            `json:"run_id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	CandidatesTotal int               `json:"candidates_total"`
	UniqueURLs      int               `json:"unique_urls"`
	Counts          map[Outcome]int   `json:"counts"`
	OKBySource      map[string]int    `json:"ok_by_source"`
	SourceFailures  map[string]string `json:"source_failures,omitempty"`
}

// OK returns the number of candidates that ended in OutcomeOK.
func (r RunReport) OK() int { return r.Counts[OutcomeOK] }

// Total returns the number of recorded outcomes. After a completed run it
// equals UniqueURLs.
func (r RunReport) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// ExitCode maps the report to a process exit code. A run that saw at least
// one unique URL is healthy even if everything was a duplicate.
func (r RunReport) ExitCode() int {
	if r.OK() > 0 || r.UniqueURLs > 0 {
		return ExitOK
	}
	return ExitDegraded
}

// Status is the persisted health record in meta/status.json. The consecutive
// counters let an external monitor alert on repeated bad runs.
type Status struct {
	LastRun             time.Time         `json:"last_run"`
	RunID               string            `json:"run_id,omitempty"`
	LastExitCode        int               `json:"last_exit_code"`
	CandidatesTotal     int               `json:"candidates_total"`
	UniqueURLs          int               `json:"unique_urls"`
	Counts              map[Outcome]int   `json:"counts,omitempty"`
	OKBySource          map[string]int    `json:"ok_by_source,omitempty"`
	SourceFailures      map[string]string `json:"source_failures,omitempty"`
	ConsecutiveError    int               `json:"consecutive_error"`
	ConsecutiveDegraded int               `json:"consecutive_degraded"`
	MinShortSide        int               `json:"min_short_side_px,omitempty"`
	Error               string            `json:"error,omitempty"`
}

// NewStatus builds a Status from a finished run.
func NewStatus(r RunReport) Status {
	return Status{
		LastRun:         r.FinishedAt,
		RunID:           r.RunID,
		LastExitCode:    r.ExitCode(),
		CandidatesTotal: r.CandidatesTotal,
		UniqueURLs:      r.UniqueURLs,
		Counts:          r.Counts,
		OKBySource:      r.OKBySource,
		SourceFailures:  r.SourceFailures,
	}
}

// StatusPath returns the status file location under root.
func StatusPath(root string) string {
	return filepath.Join(root, metaDir, statusFileName)
}

// ReadStatus loads the status file. A missing file returns ok == false.
func ReadStatus(path string) (Status, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("read status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, false, fmt.Errorf("parse status: %w", err)
	}
	return st, true, nil
}

// WriteStatus stores st at path, carrying the consecutive counters forward
// from the previous status. An unreadable previous status resets them.
func WriteStatus(path string, st Status) (Status, error) {
	prev, _, err := ReadStatus(path)
	if err != nil {
		prev = Status{}
	}

	st.ConsecutiveError, st.ConsecutiveDegraded = 0, 0
	switch st.LastExitCode {
	case ExitError:
		st.ConsecutiveError = prev.ConsecutiveError + 1
	case ExitDegraded:
		st.ConsecutiveDegraded = prev.ConsecutiveDegraded + 1
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return st, fmt.Errorf("encode status: %w", err)
	}
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return st, fmt.Errorf("write status: %w", err)
	}
	return st, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".harvest-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
