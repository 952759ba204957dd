package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// ChangeEntry is one append-only audit record. Every mutation writes one in
// the same transaction as the change it describes.
type ChangeEntry struct {
	ID        int64
	ContextID int64
	TaskID    *int64
	Action    string
	DetailsMD string
	Actor     string
	CreatedAt string
}

func logChangeTx(ctx context.Context, tx *sql.Tx, contextID int64, taskID *int64, action, details, actor string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO changelog (context_id, task_id, action, details_md, created_at, actor)
		 VALUES (?, ?, ?, ?, ?, ?);`,
		contextID, taskID, action, nullIfEmpty(details), utcNow(), nullIfEmpty(actor))
	if err != nil {
		return fmt.Errorf("append changelog: %w", err)
	}
	return nil
}

// ContextLog returns a context's changelog, newest first. limit <= 0 means
// everything.
func (s *Store) ContextLog(ctx context.Context, contextID int64, limit int) ([]ChangeEntry, error) {
	q := `SELECT id, context_id, task_id, action, details_md, actor, created_at
		FROM changelog WHERE context_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{contextID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryChangelog(ctx, q+";", args...)
}

// TaskLog returns a step's changelog, newest first.
func (s *Store) TaskLog(ctx context.Context, taskID int64, limit int) ([]ChangeEntry, error) {
	q := `SELECT id, context_id, task_id, action, details_md, actor, created_at
		FROM changelog WHERE task_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{taskID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryChangelog(ctx, q+";", args...)
}

func (s *Store) queryChangelog(ctx context.Context, q string, args ...any) ([]ChangeEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query changelog: %w", err)
	}
	defer rows.Close()

	var out []ChangeEntry
	for rows.Next() {
		var e ChangeEntry
		var contextID, taskID sql.NullInt64
		var details, actor sql.NullString
		if err := rows.Scan(&e.ID, &contextID, &taskID, &e.Action, &details, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ContextID = contextID.Int64
		if taskID.Valid {
			id := taskID.Int64
			e.TaskID = &id
		}
		e.DetailsMD = details.String
		e.Actor = actor.String
		out = append(out, e)
	}
	return out, rows.Err()
}
