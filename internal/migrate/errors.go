package migrate

import (
	"errors"
	"fmt"
)

// ErrStoreUninitialized is returned when the version ledger is consulted on a
// store that has never been created.
var ErrStoreUninitialized = errors.New("store uninitialized: no schema version ledger")

// CatalogGapError reports a hole in the patch ordinal sequence. It is a fatal
// configuration error detected at catalog load, before any patch runs.
type CatalogGapError struct {
	Missing int
}

func (e *CatalogGapError) Error() string {
	return fmt.Sprintf("patch catalog gap: ordinal %d is missing", e.Missing)
}

// BackupVerificationError means the backup copy's checksum does not match the
// live store. An unverified backup provides no safety guarantee, so this
// aborts a migration attempt before any patch is applied.
type BackupVerificationError struct {
	Source      string
	Destination string
	SourceSum   string
	DestSum     string
}

func (e *BackupVerificationError) Error() string {
	return fmt.Sprintf("backup checksum mismatch: live=%s backup=%s (copy %s deleted)",
		e.SourceSum, e.DestSum, e.Destination)
}

// NonMonotonicVersionError reports an attempt to move the version ledger
// backwards or sideways. This is a programming-contract violation.
type NonMonotonicVersionError struct {
	Current  int
	Proposed int
}

func (e *NonMonotonicVersionError) Error() string {
	return fmt.Sprintf("non-monotonic schema version: current %d, proposed %d", e.Current, e.Proposed)
}

// MigrationFailureError is a patch that failed to apply: a SQL error, or a
// foreign-key violation surfaced by the post-patch integrity check (in which
// case Relation names the violating table).
type MigrationFailureError struct {
	Ordinal  int
	Relation string
	Err      error
}

func (e *MigrationFailureError) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("patch %d: foreign key violation in relation %q", e.Ordinal, e.Relation)
	}
	return fmt.Sprintf("patch %d: %v", e.Ordinal, e.Err)
}

func (e *MigrationFailureError) Unwrap() error { return e.Err }

// InvariantViolationError reports a table that lost rows (or vanished
// entirely) across a migration attempt.
type InvariantViolationError struct {
	Table   string
	Before  int64
	After   int64
	Missing bool
}

func (e *InvariantViolationError) Error() string {
	if e.Missing {
		return fmt.Sprintf("table %q missing after migration (had %d rows)", e.Table, e.Before)
	}
	return fmt.Sprintf("table %q lost rows: %d -> %d (delta %d)", e.Table, e.Before, e.After, e.After-e.Before)
}
