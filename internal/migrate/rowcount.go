package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TableCounts maps table name to row count. A snapshot is taken before and
// after a migration attempt; it is never persisted.
type TableCounts map[string]int64

// Snapshot counts every user table in the store. SQLite internals are
// excluded.
func Snapshot(ctx context.Context, db *sql.DB) (TableCounts, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%';`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	counts := make(TableCounts, len(names))
	for _, name := range names {
		var n int64
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %q;`, name)
		if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

// ValidateCounts enforces the row-count invariant: every table present
// before the migration must hold at least as many rows after it. Tables new
// in after are exempt, as are "_new" scratch tables left by shape
// migrations. This is a coarse guard: it cannot prove no row was altered,
// but it proves none was silently dropped.
func ValidateCounts(before, after TableCounts) error {
	names := make([]string, 0, len(before))
	for name := range before {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []error
	for _, name := range names {
		if strings.HasSuffix(name, "_new") {
			continue
		}
		countBefore := before[name]
		countAfter, ok := after[name]
		switch {
		case !ok:
			violations = append(violations, &InvariantViolationError{
				Table:   name,
				Before:  countBefore,
				Missing: true,
			})
		case countAfter < countBefore:
			violations = append(violations, &InvariantViolationError{
				Table:  name,
				Before: countBefore,
				After:  countAfter,
			})
		}
	}
	return errors.Join(violations...)
}
