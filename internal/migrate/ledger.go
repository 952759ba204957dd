package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// The version ledger is a singleton row: schema_version(id=1, version,
// updated_at). It is owned exclusively by this package; version advancement
// happens in the same transaction as the patch it certifies.

const createLedgerSQL = `
	CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
`

// CurrentVersion reads the committed schema version. It returns
// ErrStoreUninitialized when the ledger table or its row does not exist.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version';`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("probe schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, ErrStoreUninitialized
	}

	var version int
	err = db.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1;`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrStoreUninitialized
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// setVersionTx advances the ledger inside the caller's transaction. Moving to
// a version <= the committed one fails fast with NonMonotonicVersionError.
func setVersionTx(ctx context.Context, tx *sql.Tx, version int) error {
	var current int
	err := tx.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1;`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if err == nil && version <= current {
		return &NonMonotonicVersionError{Current: current, Proposed: version}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (id, version, updated_at) VALUES (1, ?, ?);`,
		version, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write schema version %d: %w", version, err)
	}
	return nil
}
