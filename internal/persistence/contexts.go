package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// A Context is one plan: a named unit of work holding numbered steps and
// typed notes. Contexts are scoped to a project and unique by name within
// it.
type Context struct {
	ID            int64
	Name          string
	Status        string
	DescriptionMD string
	UserID        int64
	ProjectID     int64
	CreatedAt     string
	UpdatedAt     string
}

const (
	ContextActive    = "active"
	ContextCompleted = "completed"
)

type CreateContextParams struct {
	Name          string
	DescriptionMD string
	UserID        int64
	ProjectID     int64
	// SetActive makes the new context the caller's active one.
	SetActive bool
	Actor     string
}

func (s *Store) CreateContext(ctx context.Context, p CreateContextParams) (Context, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Context{}, errors.New("context name must not be empty")
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := utcNow()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO contexts (name, status, description_md, user_id, project_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?);`,
			p.Name, ContextActive, nullIfEmpty(p.DescriptionMD), p.UserID, p.ProjectID, now, now)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("context %q already exists in this project", p.Name)
			}
			return fmt.Errorf("create context: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if p.SetActive {
			if err := upsertUserStateTx(ctx, tx, p.UserID, p.ProjectID, &id); err != nil {
				return err
			}
		}
		return logChangeTx(ctx, tx, id, nil, "plan_created", p.Name, p.Actor)
	})
	if err != nil {
		return Context{}, err
	}
	s.logger.Info("context created", "context_id", id, "name", p.Name)
	return s.ContextByID(ctx, id)
}

func (s *Store) ContextByID(ctx context.Context, id int64) (Context, error) {
	return scanContext(s.db.QueryRowContext(ctx, contextSelect+` WHERE id = ?;`, id))
}

const contextSelect = `SELECT id, name, status, description_md, user_id, project_id, created_at, updated_at FROM contexts`

// ResolveContext turns a user-supplied reference, numeric id or name,
// into a context row within the project.
func (s *Store) ResolveContext(ctx context.Context, ref string, projectID int64) (Context, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Context{}, ErrNotFound
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		c, err := s.ContextByID(ctx, id)
		if err == nil && c.ProjectID == projectID {
			return c, nil
		}
		// Fall through: an all-digit name is still a legal name.
	}
	return scanContext(s.db.QueryRowContext(ctx,
		contextSelect+` WHERE name = ? AND project_id = ?;`, ref, projectID))
}

// ActiveContext returns the caller's active context for the project, from
// user_state. ErrNotFound means no context is active.
func (s *Store) ActiveContext(ctx context.Context, userID, projectID int64) (Context, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT active_context_id FROM user_state WHERE user_id = ? AND project_id = ?;`,
		userID, projectID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return Context{}, ErrNotFound
	}
	if err != nil {
		return Context{}, fmt.Errorf("read user state: %w", err)
	}
	return s.ContextByID(ctx, id.Int64)
}

// SwitchContext makes the given context the caller's active one. Completed
// contexts are refused unless allowReopen is set, in which case the switch
// reopens them.
func (s *Store) SwitchContext(ctx context.Context, contextID, userID, projectID int64, allowReopen bool, actor string) (Context, error) {
	c, err := s.ContextByID(ctx, contextID)
	if err != nil {
		return Context{}, err
	}
	if c.Status == ContextCompleted && !allowReopen {
		return Context{}, fmt.Errorf("%w: %s", ErrContextCompleted, c.Name)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if c.Status == ContextCompleted {
			if _, err := tx.ExecContext(ctx,
				`UPDATE contexts SET status = ?, updated_at = ? WHERE id = ?;`,
				ContextActive, utcNow(), contextID); err != nil {
				return fmt.Errorf("reopen context: %w", err)
			}
			if err := logChangeTx(ctx, tx, contextID, nil, "plan_reopened", c.Name, actor); err != nil {
				return err
			}
		}
		if err := upsertUserStateTx(ctx, tx, userID, projectID, &contextID); err != nil {
			return err
		}
		return logChangeTx(ctx, tx, contextID, nil, "plan_switched", c.Name, actor)
	})
	if err != nil {
		return Context{}, err
	}
	return s.ContextByID(ctx, contextID)
}

// CompleteContext marks the context completed. With requireGoalAndPlan set,
// the context must carry at least one goal note and one plan note.
func (s *Store) CompleteContext(ctx context.Context, contextID int64, requireGoalAndPlan bool, actor string) error {
	c, err := s.ContextByID(ctx, contextID)
	if err != nil {
		return err
	}
	if requireGoalAndPlan {
		hasGoal, hasPlan, err := s.HasGoalAndPlan(ctx, contextID)
		if err != nil {
			return err
		}
		if !hasGoal || !hasPlan {
			return fmt.Errorf("%w: %s", ErrGoalPlanRequired, c.Name)
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE contexts SET status = ?, updated_at = ? WHERE id = ?;`,
			ContextCompleted, utcNow(), contextID); err != nil {
			return fmt.Errorf("complete context: %w", err)
		}
		// Whoever had this context active no longer does.
		if _, err := tx.ExecContext(ctx,
			`UPDATE user_state SET active_context_id = NULL, updated_at = ?
			 WHERE active_context_id = ?;`, utcNow(), contextID); err != nil {
			return fmt.Errorf("clear active context: %w", err)
		}
		return logChangeTx(ctx, tx, contextID, nil, "plan_completed", c.Name, actor)
	})
}

// ListContexts returns the project's contexts, active first, newest within
// each status. Completed ones are included only when includeCompleted is
// set.
func (s *Store) ListContexts(ctx context.Context, projectID int64, includeCompleted bool) ([]Context, error) {
	q := contextSelect + ` WHERE project_id = ?`
	if !includeCompleted {
		q += ` AND status != 'completed'`
	}
	q += ` ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, created_at DESC;`

	rows, err := s.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []Context
	for rows.Next() {
		c, err := scanContextRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func upsertUserStateTx(ctx context.Context, tx *sql.Tx, userID, projectID int64, contextID *int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_state (user_id, project_id, active_context_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, project_id)
		 DO UPDATE SET active_context_id = excluded.active_context_id, updated_at = excluded.updated_at;`,
		userID, projectID, contextID, utcNow())
	if err != nil {
		return fmt.Errorf("upsert user state: %w", err)
	}
	return nil
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(row *sql.Row) (Context, error) {
	c, err := scanContextRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	return c, err
}

func scanContextRow(row rowScanner) (Context, error) {
	var c Context
	var desc sql.NullString
	var userID, projectID sql.NullInt64
	err := row.Scan(&c.ID, &c.Name, &c.Status, &desc, &userID, &projectID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Context{}, err
	}
	c.DescriptionMD = desc.String
	c.UserID = userID.Int64
	c.ProjectID = projectID.Int64
	return c, nil
}
