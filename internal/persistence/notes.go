package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Note kinds on contexts. Goal and plan notes are what the completion gate
// looks for; everything else is a plain note.
const (
	NoteKindGoal = "goal"
	NoteKindPlan = "plan"
	NoteKindNote = "note"
)

type ContextNote struct {
	ID        int64
	ContextID int64
	Kind      string
	NoteMD    string
	Actor     string
	CreatedAt string
}

type TaskNote struct {
	ID        int64
	TaskID    int64
	NoteMD    string
	CreatedAt string
}

// AddContextNote appends a typed note to a context.
func (s *Store) AddContextNote(ctx context.Context, contextID int64, kind, noteMD, actor string) (ContextNote, error) {
	switch kind {
	case NoteKindGoal, NoteKindPlan, NoteKindNote:
	case "":
		kind = NoteKindNote
	default:
		return ContextNote{}, fmt.Errorf("unknown note kind %q", kind)
	}
	if strings.TrimSpace(noteMD) == "" {
		return ContextNote{}, errors.New("note must not be empty")
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO context_notes (context_id, note_md, created_at, actor, kind)
			 VALUES (?, ?, ?, ?, ?);`,
			contextID, noteMD, utcNow(), nullIfEmpty(actor), kind)
		if err != nil {
			return fmt.Errorf("add context note: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return logChangeTx(ctx, tx, contextID, nil, "note_added", kind, actor)
	})
	if err != nil {
		return ContextNote{}, err
	}

	var n ContextNote
	var noteActor sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, context_id, kind, note_md, actor, created_at FROM context_notes WHERE id = ?;`,
		id).Scan(&n.ID, &n.ContextID, &n.Kind, &n.NoteMD, &noteActor, &n.CreatedAt)
	if err != nil {
		return ContextNote{}, fmt.Errorf("read note back: %w", err)
	}
	n.Actor = noteActor.String
	return n, nil
}

// ListContextNotes returns a context's notes oldest first, optionally
// filtered by kind.
func (s *Store) ListContextNotes(ctx context.Context, contextID int64, kind string) ([]ContextNote, error) {
	q := `SELECT id, context_id, kind, note_md, actor, created_at FROM context_notes WHERE context_id = ?`
	args := []any{contextID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at, id;`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list context notes: %w", err)
	}
	defer rows.Close()

	var out []ContextNote
	for rows.Next() {
		var n ContextNote
		var actor sql.NullString
		if err := rows.Scan(&n.ID, &n.ContextID, &n.Kind, &n.NoteMD, &actor, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Actor = actor.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// HasGoalAndPlan reports whether the context carries at least one goal note
// and one plan note.
func (s *Store) HasGoalAndPlan(ctx context.Context, contextID int64) (hasGoal, hasPlan bool, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT kind FROM context_notes WHERE context_id = ? AND kind IN (?, ?);`,
		contextID, NoteKindGoal, NoteKindPlan)
	if err != nil {
		return false, false, fmt.Errorf("check goal/plan notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return false, false, err
		}
		switch kind {
		case NoteKindGoal:
			hasGoal = true
		case NoteKindPlan:
			hasPlan = true
		}
	}
	return hasGoal, hasPlan, rows.Err()
}

// AddTaskNote appends a note to a step.
func (s *Store) AddTaskNote(ctx context.Context, taskID int64, noteMD, actor string) (TaskNote, error) {
	if strings.TrimSpace(noteMD) == "" {
		return TaskNote{}, errors.New("note must not be empty")
	}
	t, err := s.TaskByID(ctx, taskID)
	if err != nil {
		return TaskNote{}, err
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO task_notes (task_id, note_md, created_at) VALUES (?, ?, ?);`,
			taskID, noteMD, utcNow())
		if err != nil {
			return fmt.Errorf("add step note: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return logChangeTx(ctx, tx, t.ContextID, &taskID, "step_note_added", "", actor)
	})
	if err != nil {
		return TaskNote{}, err
	}

	var n TaskNote
	err = s.db.QueryRowContext(ctx,
		`SELECT id, task_id, note_md, created_at FROM task_notes WHERE id = ?;`,
		id).Scan(&n.ID, &n.TaskID, &n.NoteMD, &n.CreatedAt)
	if err != nil {
		return TaskNote{}, fmt.Errorf("read note back: %w", err)
	}
	return n, nil
}

// ListTaskNotes returns a step's notes oldest first.
func (s *Store) ListTaskNotes(ctx context.Context, taskID int64) ([]TaskNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, note_md, created_at FROM task_notes WHERE task_id = ? ORDER BY created_at, id;`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("list step notes: %w", err)
	}
	defer rows.Close()

	var out []TaskNote
	for rows.Next() {
		var n TaskNote
		if err := rows.Scan(&n.ID, &n.TaskID, &n.NoteMD, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
