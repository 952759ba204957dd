package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// State names the executor's position in one migration attempt.
type State string

const (
	StateIdle       State = "idle"
	StateBackingUp  State = "backing-up"
	StateTrialing   State = "trialing"
	StateApplying   State = "applying"
	StateValidating State = "validating"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)

// Options configures one migration pass.
type Options struct {
	// DBPath is the live store file. Required.
	DBPath string
	// BackupDir defaults to a .backups directory beside the store.
	BackupDir string
	// Catalog defaults to the shipped catalog.
	Catalog *Catalog
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// Result reports the outcome of a completed pass.
type Result struct {
	FromVersion int
	ToVersion   int
	// Backup is nil for no-op and fresh-bootstrap passes.
	Backup *Backup
	// Fresh is set when the store was created from the base schema.
	Fresh bool
	// NoOp is set when the store was already at the latest version.
	NoOp bool
}

// Executor drives the safety pipeline: verified backup, trial on a copy,
// row-count validation, then live application. It assumes a single process;
// no business operation may touch the store while Run is in flight.
type Executor struct {
	opts  Options
	state State
}

func NewExecutor(opts Options) *Executor {
	if opts.BackupDir == "" {
		opts.BackupDir = DefaultBackupDir(opts.DBPath)
	}
	if opts.Catalog == nil {
		opts.Catalog = Shipped()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("plantrack")
	}
	return &Executor{opts: opts, state: StateIdle}
}

// State returns the executor's current (or terminal) state.
func (e *Executor) State() State { return e.state }

// Ensure brings the store at opts.DBPath to the latest schema version,
// creating it fresh if needed. It is the single entry point business logic
// must call before any other store operation; a returned error is fatal to
// startup.
func Ensure(ctx context.Context, opts Options) (*Result, error) {
	return NewExecutor(opts).Run(ctx)
}

// Run performs one migration attempt to completion. Committed and Aborted
// are terminal: a new Executor is needed for a fresh attempt.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	attemptID := uuid.NewString()
	logger := e.opts.Logger.With("attempt_id", attemptID, "db", e.opts.DBPath)

	ctx, span := e.opts.Tracer.Start(ctx, "migrate.run",
		trace.WithAttributes(attribute.String("plantrack.migrate.attempt_id", attemptID)))
	defer span.End()

	fresh, err := e.storeIsFresh()
	if err != nil {
		return nil, err
	}
	if fresh {
		return e.bootstrap(ctx, logger)
	}

	current, err := e.readVersion(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("plantrack.migrate.from_version", current))

	pending := e.opts.Catalog.Pending(current)
	if len(pending) == 0 {
		logger.Debug("schema current, no migration needed", "version", current)
		return &Result{FromVersion: current, ToVersion: current, NoOp: true}, nil
	}
	target := pending[len(pending)-1].Ordinal
	logger.Info("schema migration pending",
		"from_version", current, "to_version", target, "patches", len(pending))

	// Flush the WAL so the file copy below is byte-complete.
	if err := e.checkpointWAL(ctx); err != nil {
		e.state = StateAborted
		return nil, err
	}

	e.state = StateBackingUp
	backup, err := e.backUp(ctx, logger)
	if err != nil {
		e.state = StateAborted
		return nil, err
	}

	preCounts, err := e.snapshotLive(ctx)
	if err != nil {
		e.state = StateAborted
		return nil, err
	}

	e.state = StateTrialing
	if err := e.trial(ctx, logger, pending, preCounts, backup); err != nil {
		e.state = StateAborted
		return nil, err
	}

	e.state = StateApplying
	if err := e.applyLive(ctx, logger, pending, preCounts, backup); err != nil {
		e.state = StateAborted
		return nil, err
	}

	e.state = StateCommitted
	logger.Info("schema migration committed",
		"from_version", current, "to_version", target, "backup", backup.Path)
	return &Result{FromVersion: current, ToVersion: target, Backup: backup}, nil
}

func (e *Executor) backUp(ctx context.Context, logger *slog.Logger) (*Backup, error) {
	_, span := e.opts.Tracer.Start(ctx, "migrate.backup")
	defer span.End()

	backup, err := CreateBackup(e.opts.DBPath, e.opts.BackupDir, TriggerMigration)
	if err != nil {
		return nil, fmt.Errorf("pre-migration backup failed, live store untouched: %w", err)
	}
	logger.Info("verified backup created", "backup", backup.Path, "checksum", backup.Checksum)
	return backup, nil
}

func (e *Executor) trial(ctx context.Context, logger *slog.Logger, pending []Patch, preCounts TableCounts, backup *Backup) error {
	ctx, span := e.opts.Tracer.Start(ctx, "migrate.trial",
		trace.WithAttributes(attribute.Int("plantrack.migrate.patches", len(pending))))
	defer span.End()

	copyCounts, err := trialApply(ctx, e.opts.DBPath, pending)
	if err != nil {
		return fmt.Errorf("trial migration failed on copy, live store untouched (backup at %s): %w",
			backup.Path, err)
	}
	if err := ValidateCounts(preCounts, copyCounts); err != nil {
		return fmt.Errorf("trial migration would lose data, live store untouched (backup at %s): %w",
			backup.Path, err)
	}
	logger.Info("trial migration passed on copy")
	return nil
}

// applyLive applies the already-proven patch sequence to the real store and
// re-validates. A failure here is the most severe class: each patch is
// all-or-nothing but the sequence is not, so the operator must restore from
// the named backup.
func (e *Executor) applyLive(ctx context.Context, logger *slog.Logger, pending []Patch, preCounts TableCounts, backup *Backup) error {
	ctx, span := e.opts.Tracer.Start(ctx, "migrate.apply")
	defer span.End()

	db, err := openMigrationDB(e.opts.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := applyPatches(ctx, db, pending); err != nil {
		return fmt.Errorf("live migration failed after trial success; restore from backup %s: %w",
			backup.Path, err)
	}

	e.state = StateValidating
	postCounts, err := Snapshot(ctx, db)
	if err != nil {
		return fmt.Errorf("post-migration snapshot failed; restore from backup %s: %w", backup.Path, err)
	}
	if err := ValidateCounts(preCounts, postCounts); err != nil {
		return fmt.Errorf("live store failed validation after migration; restore from backup %s: %w",
			backup.Path, err)
	}
	logger.Info("live store validated")
	return nil
}

// bootstrap creates a fresh store: the base schema (ordinal 0) and the
// ledger at the latest shipped ordinal, in one transaction. The patch
// pipeline never runs for fresh stores.
func (e *Executor) bootstrap(ctx context.Context, logger *slog.Logger) (*Result, error) {
	db, err := openMigrationDB(e.opts.DBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, e.opts.Catalog.Base()); err != nil {
		return nil, fmt.Errorf("apply base schema: %w", err)
	}
	latest := e.opts.Catalog.Latest()
	if err := setVersionTx(ctx, tx, latest); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bootstrap: %w", err)
	}

	logger.Info("fresh store created", "version", latest)
	e.state = StateCommitted
	return &Result{FromVersion: 0, ToVersion: latest, Fresh: true}, nil
}

// storeIsFresh reports whether the store must be created from the base
// schema: the file is absent, empty, or contains no user tables.
func (e *Executor) storeIsFresh() (bool, error) {
	info, err := os.Stat(e.opts.DBPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat store: %w", err)
	}
	if info.Size() == 0 {
		return true, nil
	}

	db, err := openMigrationDB(e.opts.DBPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var tables int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%';`).Scan(&tables)
	if err != nil {
		return false, fmt.Errorf("probe store: %w", err)
	}
	return tables == 0, nil
}

// readVersion reads the ledger, adopting pre-ledger legacy stores by the
// shape their tables last migrated to.
func (e *Executor) readVersion(ctx context.Context) (int, error) {
	db, err := openMigrationDB(e.opts.DBPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	current, err := CurrentVersion(ctx, db)
	if errors.Is(err, ErrStoreUninitialized) {
		return e.adoptLegacy(ctx, db)
	}
	if err != nil {
		return 0, err
	}
	return current, nil
}

// adoptLegacy writes the ledger into a store that predates it. Patch
// completion is never re-derived from shape once the ledger exists, but a
// ledger-less store has to be placed somewhere in the sequence exactly once:
// contexts carrying project_id are already at the latest ordinal and tasks
// carrying is_deleted stopped at 6; anything older starts at 1.
func (e *Executor) adoptLegacy(ctx context.Context, db *sql.DB) (int, error) {
	version := 1
	hasProjectID, err := columnExists(ctx, db, "contexts", "project_id")
	if err != nil {
		return 0, err
	}
	hasIsDeleted, err := columnExists(ctx, db, "tasks", "is_deleted")
	if err != nil {
		return 0, err
	}
	switch {
	case hasProjectID:
		version = e.opts.Catalog.Latest()
	case hasIsDeleted:
		version = 6
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ledger adoption: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, createLedgerSQL); err != nil {
		return 0, fmt.Errorf("create ledger table: %w", err)
	}
	if err := setVersionTx(ctx, tx, version); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ledger adoption: %w", err)
	}
	return version, nil
}

// columnExists probes a table for a column; a missing table has no columns.
func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return false, fmt.Errorf("probe %s columns: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (e *Executor) snapshotLive(ctx context.Context) (TableCounts, error) {
	db, err := openMigrationDB(e.opts.DBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return Snapshot(ctx, db)
}

// walCheckpointSQL is swapped in tests to simulate a checkpoint failure.
var walCheckpointSQL = `PRAGMA wal_checkpoint(TRUNCATE);`

func (e *Executor) checkpointWAL(ctx context.Context) error {
	db, err := openMigrationDB(e.opts.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, walCheckpointSQL); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}
