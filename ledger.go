package harvest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS hashes (
	sha256     TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);`

// Ledger is the persistent set of content hashes of accepted images.
// Entries are never deleted, so byte-identical content is never accepted twice
// even after the perceptual layer removes the file it came from.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	db, err := openSQLite(ctx, path, ledgerSchema)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Has reports whether hash has been recorded.
func (l *Ledger) Has(ctx context.Context, hash string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM hashes WHERE sha256 = ?`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return true, nil
}

// Record inserts hash. Recording a hash that is already present is a no-op.
func (l *Ledger) Record(ctx context.Context, hash string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO hashes (sha256, created_at) VALUES (?, ?)`,
		hash, at.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

// Count returns the number of recorded hashes.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hashes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger count: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
