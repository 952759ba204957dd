package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// A Task is one step of a plan. Steps are numbered per context, starting at
// 1, and the number never changes or gets reused: deletes are soft.
type Task struct {
	ID            int64
	ContextID     int64
	Number        int64
	Title         string
	DescriptionMD string
	Status        string
	CreatedAt     string
	UpdatedAt     string
	CompletedAt   string
}

const (
	TaskPlanned = "planned"
	TaskActive  = "active"
	TaskDone    = "done"
)

const taskSelect = `SELECT id, context_id, task_number, title, description_md, status, created_at, updated_at, completed_at
	FROM tasks`

// CreateTask appends a step to the context, assigning the next number. The
// number counts soft-deleted steps too so it stays stable in history.
func (s *Store) CreateTask(ctx context.Context, contextID int64, title, descriptionMD, actor string) (Task, error) {
	if strings.TrimSpace(title) == "" {
		return Task{}, errors.New("step title must not be empty")
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var number int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(task_number), 0) + 1 FROM tasks WHERE context_id = ?;`,
			contextID).Scan(&number)
		if err != nil {
			return fmt.Errorf("next step number: %w", err)
		}

		now := utcNow()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (context_id, task_number, title, description_md, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?);`,
			contextID, number, title, nullIfEmpty(descriptionMD), TaskPlanned, now, now)
		if err != nil {
			return fmt.Errorf("create step: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO context_state (context_id, last_task_id, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (context_id)
			 DO UPDATE SET last_task_id = excluded.last_task_id, updated_at = excluded.updated_at;`,
			contextID, id, now); err != nil {
			return fmt.Errorf("update context state: %w", err)
		}
		return logChangeTx(ctx, tx, contextID, &id, "step_created", fmt.Sprintf("#%d %s", number, title), actor)
	})
	if err != nil {
		return Task{}, err
	}
	return s.TaskByID(ctx, id)
}

func (s *Store) TaskByID(ctx context.Context, id int64) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, id))
}

// TaskByNumber resolves a step by its per-context number, skipping deleted
// steps.
func (s *Store) TaskByNumber(ctx context.Context, contextID, number int64) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx,
		taskSelect+` WHERE context_id = ? AND task_number = ? AND is_deleted = 0;`,
		contextID, number))
}

// SwitchTask makes the step the context's active one; any previously active
// step drops back to planned.
func (s *Store) SwitchTask(ctx context.Context, contextID, taskID int64, actor string) (Task, error) {
	t, err := s.TaskByID(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if t.ContextID != contextID {
		return Task{}, fmt.Errorf("step %d does not belong to context %d", taskID, contextID)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := utcNow()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ?
			 WHERE context_id = ? AND status = ? AND id != ?;`,
			TaskPlanned, now, contextID, TaskActive, taskID); err != nil {
			return fmt.Errorf("demote active step: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?;`,
			TaskActive, now, taskID); err != nil {
			return fmt.Errorf("activate step: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO context_state (context_id, active_task_id, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (context_id)
			 DO UPDATE SET active_task_id = excluded.active_task_id, updated_at = excluded.updated_at;`,
			contextID, taskID, now); err != nil {
			return fmt.Errorf("update context state: %w", err)
		}
		return logChangeTx(ctx, tx, contextID, &taskID, "step_switched", fmt.Sprintf("#%d", t.Number), actor)
	})
	if err != nil {
		return Task{}, err
	}
	return s.TaskByID(ctx, taskID)
}

// CompleteTask marks the step done and releases it from the context cursor.
func (s *Store) CompleteTask(ctx context.Context, taskID int64, actor string) (Task, error) {
	t, err := s.TaskByID(ctx, taskID)
	if err != nil {
		return Task{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := utcNow()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?;`,
			TaskDone, now, now, taskID); err != nil {
			return fmt.Errorf("complete step: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE context_state SET active_task_id = NULL, updated_at = ?
			 WHERE context_id = ? AND active_task_id = ?;`,
			now, t.ContextID, taskID); err != nil {
			return fmt.Errorf("clear active step: %w", err)
		}
		return logChangeTx(ctx, tx, t.ContextID, &taskID, "step_done", fmt.Sprintf("#%d %s", t.Number, t.Title), actor)
	})
	if err != nil {
		return Task{}, err
	}
	return s.TaskByID(ctx, taskID)
}

// DeleteTask soft-deletes the step. The row stays for history and numbering.
func (s *Store) DeleteTask(ctx context.Context, taskID int64, actor string) error {
	t, err := s.TaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := utcNow()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET is_deleted = 1, updated_at = ? WHERE id = ?;`, now, taskID); err != nil {
			return fmt.Errorf("delete step: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE context_state SET active_task_id = NULL, updated_at = ?
			 WHERE context_id = ? AND active_task_id = ?;`,
			now, t.ContextID, taskID); err != nil {
			return fmt.Errorf("clear active step: %w", err)
		}
		return logChangeTx(ctx, tx, t.ContextID, &taskID, "step_deleted", fmt.Sprintf("#%d %s", t.Number, t.Title), actor)
	})
}

// ListTasks returns the context's live steps in number order.
func (s *Store) ListTasks(ctx context.Context, contextID int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		taskSelect+` WHERE context_id = ? AND is_deleted = 0 ORDER BY task_number;`, contextID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveTask returns the context's active step from context_state.
// ErrNotFound means no step is active.
func (s *Store) ActiveTask(ctx context.Context, contextID int64) (Task, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT active_task_id FROM context_state WHERE context_id = ?;`, contextID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("read context state: %w", err)
	}
	return s.TaskByID(ctx, id.Int64)
}

func scanTask(row *sql.Row) (Task, error) {
	t, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func scanTaskRow(row rowScanner) (Task, error) {
	var t Task
	var desc, completed sql.NullString
	var number sql.NullInt64
	err := row.Scan(&t.ID, &t.ContextID, &number, &t.Title, &desc, &t.Status, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err != nil {
		return Task{}, err
	}
	t.Number = number.Int64
	t.DescriptionMD = desc.String
	t.CompletedAt = completed.String
	return t, nil
}
