package harvest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
)

const perceptualSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	area        INTEGER NOT NULL,
	updated_at  TEXT NOT NULL
);`

// Decision is the perceptual index verdict for a new image.
type Decision int

const (
	// DecisionNew means no stored image shares the fingerprint.
	DecisionNew Decision = iota
	// DecisionUpgrade means the new image replaced a smaller stored match.
	DecisionUpgrade
	// DecisionDuplicate means a stored match is at least as good.
	DecisionDuplicate
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionUpgrade:
		return "upgrade"
	default:
		return "duplicate"
	}
}

// Verdict is the result of PerceptualIndex.Evaluate.
type Verdict struct {
	Decision    Decision
	Fingerprint string
	OldPath     string // stored path for Upgrade and Duplicate
}

// PerceptualRecord is the stored best copy for one fingerprint.
type PerceptualRecord struct {
	Fingerprint string
	Path        string
	Area        int64
}

// PerceptualIndex maps perceptual fingerprints to the best stored file.
// Evaluate is serialized: two concurrent evaluations of the same photo never
// both register as new.
type PerceptualIndex struct {
	mu     sync.Mutex
	db     *sql.DB
	factor float64
	now    func() time.Time
}

// OpenPerceptualIndex opens or creates the index database at path. A match
// replaces the stored record only when its area exceeds the stored area
// times upgradeFactor.
func OpenPerceptualIndex(ctx context.Context, path string, upgradeFactor float64) (*PerceptualIndex, error) {
	if upgradeFactor <= 0 {
		upgradeFactor = DefaultUpgradeFactor
	}
	db, err := openSQLite(ctx, path, perceptualSchema)
	if err != nil {
		return nil, fmt.Errorf("perceptual index: %w", err)
	}
	return &PerceptualIndex{db: db, factor: upgradeFactor, now: time.Now}, nil
}

// Fingerprint returns the 64-bit difference hash of data as 16 hex digits.
// The image is decoded with its EXIF orientation applied, so rotated copies of
// the same photo collide.
func Fingerprint(data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode for fingerprint: %w", err)
	}
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", fmt.Errorf("compute dHash: %w", err)
	}
	return fmt.Sprintf("%016x", hash.GetHash()), nil
}

// Evaluate fingerprints data and admits it under path. See Admit.
func (x *PerceptualIndex) Evaluate(ctx context.Context, data []byte, info ImageInfo, path string, persist func() error) (Verdict, error) {
	fp, err := Fingerprint(data)
	if err != nil {
		return Verdict{}, err
	}
	return x.Admit(ctx, fp, path, info.Area(), persist)
}

// Admit decides what to do with an image of the given fingerprint and area:
//   - no record: persist, register {path, area}, DecisionNew
//   - area > stored area * factor: persist, replace the record, DecisionUpgrade
//     (the caller removes OldPath afterwards)
//   - otherwise: DecisionDuplicate, persist is not called
//
// persist (may be nil) writes the file and runs before the record is
// committed, so a stored path always names a written file. If persist fails
// the record is left untouched.
func (x *PerceptualIndex) Admit(ctx context.Context, fp, path string, area int64, persist func() error) (Verdict, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var old PerceptualRecord
	err = tx.QueryRowContext(ctx,
		`SELECT path, area FROM fingerprints WHERE fingerprint = ?`, fp,
	).Scan(&old.Path, &old.Area)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := runPersist(persist); err != nil {
			return Verdict{}, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fingerprints (fingerprint, path, area, updated_at) VALUES (?, ?, ?, ?)`,
			fp, path, area, x.now().Format(time.RFC3339),
		); err != nil {
			return Verdict{}, fmt.Errorf("insert fingerprint: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Verdict{}, fmt.Errorf("commit: %w", err)
		}
		return Verdict{Decision: DecisionNew, Fingerprint: fp}, nil

	case err != nil:
		return Verdict{}, fmt.Errorf("lookup fingerprint: %w", err)
	}

	if float64(area) <= float64(old.Area)*x.factor {
		return Verdict{Decision: DecisionDuplicate, Fingerprint: fp, OldPath: old.Path}, nil
	}

	if err := runPersist(persist); err != nil {
		return Verdict{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE fingerprints SET path = ?, area = ?, updated_at = ? WHERE fingerprint = ?`,
		path, area, x.now().Format(time.RFC3339), fp,
	); err != nil {
		return Verdict{}, fmt.Errorf("update fingerprint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Verdict{}, fmt.Errorf("commit: %w", err)
	}
	return Verdict{Decision: DecisionUpgrade, Fingerprint: fp, OldPath: old.Path}, nil
}

// Lookup returns the record stored for fp.
func (x *PerceptualIndex) Lookup(ctx context.Context, fp string) (PerceptualRecord, bool, error) {
	rec := PerceptualRecord{Fingerprint: fp}
	err := x.db.QueryRowContext(ctx,
		`SELECT path, area FROM fingerprints WHERE fingerprint = ?`, fp,
	).Scan(&rec.Path, &rec.Area)
	if errors.Is(err, sql.ErrNoRows) {
		return PerceptualRecord{}, false, nil
	}
	if err != nil {
		return PerceptualRecord{}, false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return rec, true, nil
}

// Count returns the number of stored fingerprints.
func (x *PerceptualIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (x *PerceptualIndex) Close() error {
	return x.db.Close()
}

// PersistError wraps a failure of the persist callback passed to Admit.
type PersistError struct{ Err error }

func (e *PersistError) Error() string { return "persist: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

func runPersist(persist func() error) error {
	if persist == nil {
		return nil
	}
	if err := persist(); err != nil {
		return &PersistError{Err: err}
	}
	return nil
}
