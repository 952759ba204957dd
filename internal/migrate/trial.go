package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// openMigrationDB opens a store file for the migration pipeline. A single
// connection keeps the per-connection foreign_keys pragma in effect across
// every statement of a patch.
func openMigrationDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// trialApply runs the pending patch sequence against a throwaway copy of the
// store and returns the copy's post-migration row counts. The live store is
// provably untouched: the runner never opens it. The copy is removed on
// every exit path.
func trialApply(ctx context.Context, dbPath string, patches []Patch) (TableCounts, error) {
	tmp, err := os.CreateTemp(os.TempDir(), "plantrack-trial-*.db")
	if err != nil {
		return nil, fmt.Errorf("create trial copy: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("create trial copy: %w", err)
	}
	_ = os.Remove(tmpPath) // copyFile wants a fresh destination
	defer removeStoreFiles(tmpPath)

	if err := copyFile(dbPath, tmpPath); err != nil {
		return nil, fmt.Errorf("populate trial copy: %w", err)
	}

	db, err := openMigrationDB(tmpPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := applyPatches(ctx, db, patches); err != nil {
		return nil, err
	}
	return Snapshot(ctx, db)
}

// applyPatches applies each patch in ordinal order, one transaction per
// patch: a patch either fully applies or fully rolls back.
func applyPatches(ctx context.Context, db *sql.DB, patches []Patch) error {
	for _, p := range patches {
		if err := applyOne(ctx, db, p); err != nil {
			return err
		}
	}
	return nil
}

// applyOne runs a single patch. Foreign-key enforcement is suspended for the
// patch body (table-recreation patches drop and rename referenced tables)
// and integrity is re-checked before commit; a violation surfaced by the
// check fails the patch naming the relation. The ledger advances in the same
// transaction as the patch's final statement.
func applyOne(ctx context.Context, db *sql.DB, p Patch) (err error) {
	// The foreign_keys pragma is a no-op inside a transaction, so toggle it
	// on the connection before and after.
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = OFF;`); err != nil {
		return fmt.Errorf("patch %d: disable foreign keys: %w", p.Ordinal, err)
	}
	defer func() {
		if _, ferr := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); ferr != nil && err == nil {
			err = fmt.Errorf("patch %d: re-enable foreign keys: %w", p.Ordinal, ferr)
		}
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("patch %d: begin: %w", p.Ordinal, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, p.Script); err != nil {
		return &MigrationFailureError{Ordinal: p.Ordinal, Err: err}
	}

	if relation, violated, err := checkForeignKeysTx(ctx, tx); err != nil {
		return fmt.Errorf("patch %d: foreign key check: %w", p.Ordinal, err)
	} else if violated {
		return &MigrationFailureError{Ordinal: p.Ordinal, Relation: relation}
	}

	if err := setVersionTx(ctx, tx, p.Ordinal); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("patch %d: commit: %w", p.Ordinal, err)
	}
	return nil
}

// checkForeignKeysTx runs PRAGMA foreign_key_check and reports the first
// violating relation, if any. The pragma works regardless of whether
// enforcement is currently on.
func checkForeignKeysTx(ctx context.Context, tx *sql.Tx) (string, bool, error) {
	rows, err := tx.QueryContext(ctx, `PRAGMA foreign_key_check;`)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	if rows.Next() {
		var table string
		var rowid, parent, fkid any
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return "", false, err
		}
		return table, true, nil
	}
	return "", false, rows.Err()
}

// removeStoreFiles deletes a SQLite file and its WAL sidecars.
func removeStoreFiles(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
}
