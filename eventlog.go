package harvest

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	failedLogName = "failed.jsonl"
	itemsLogName  = "items.jsonl"
)

// Item describes one persisted image in the items log.
type Item struct {
	Candidate     Candidate
	SavedPath     string
	Info          ImageInfo
	SHA256        string
	ContentType   string
	ContentLength int
	Credit        Credit
}

// EventLog appends one JSON line per non-OK outcome or source failure to
// failed.jsonl and one per persisted image to items.jsonl.
type EventLog struct {
	failed zerolog.Logger
	items  zerolog.Logger
	files  []*os.File
}

// OpenEventLog opens (appending) the two logs inside the layout's meta directory.
func OpenEventLog(l *Layout) (*EventLog, error) {
	failed, err := openAppend(l.MetaPath(failedLogName))
	if err != nil {
		return nil, err
	}
	items, err := openAppend(l.MetaPath(itemsLogName))
	if err != nil {
		failed.Close()
		return nil, err
	}
	return &EventLog{
		failed: zerolog.New(zerolog.SyncWriter(failed)),
		items:  zerolog.New(zerolog.SyncWriter(items)),
		files:  []*os.File{failed, items},
	}, nil
}

// Outcome logs a terminal outcome for c.
func (e *EventLog) Outcome(at time.Time, c Candidate, o Outcome, detail string) {
	e.failed.Log().
		Time("time", at).
		Str("source", c.Source).
		Str("url", c.URL).
		Str("origin_url", c.OriginURL).
		Str("outcome", string(o)).
		Str("detail", detail).
		Send()
}

// SourceFailure logs a failed source collection.
func (e *EventLog) SourceFailure(at time.Time, source string, err error) {
	e.failed.Log().
		Time("time", at).
		Str("source", source).
		Str("outcome", "SOURCE_ERROR").
		Str("detail", err.Error()).
		Send()
}

// Item logs a persisted image.
func (e *EventLog) Item(at time.Time, it Item) {
	ev := e.items.Log().
		Time("time", at).
		Str("source", it.Candidate.Source).
		Str("query", it.Candidate.Query).
		Str("url", it.Candidate.URL).
		Str("origin_url", it.Candidate.OriginURL).
		Str("saved_path", it.SavedPath).
		Int("width", it.Info.Width).
		Int("height", it.Info.Height).
		Str("sha256", it.SHA256).
		Str("content_type", it.ContentType).
		Int("content_length", it.ContentLength)
	if it.Credit.Artist != "" {
		ev = ev.Str("artist", it.Credit.Artist)
	}
	if it.Credit.Copyright != "" {
		ev = ev.Str("copyright", it.Credit.Copyright)
	}
	if it.Credit.License != "" {
		ev = ev.Str("license", it.Credit.License)
	}
	if it.Candidate.License != "" {
		ev = ev.Str("page_license", it.Candidate.License)
	}
	ev.Send()
}

// Close closes both log files.
func (e *EventLog) Close() error {
	var errs []error
	for _, f := range e.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func openAppend(p string) (*os.File, error) {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return f, nil
}
