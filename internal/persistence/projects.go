package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
)

// Project scopes contexts to a working directory. One row per absolute path.
type Project struct {
	ID            int64
	Name          string
	AbsolutePath  string
	DescriptionMD string
	CreatedAt     string
}

// EnsureProject returns the project for the given working directory,
// creating it on first contact. The second return reports whether a row was
// created.
func (s *Store) EnsureProject(ctx context.Context, absPath string) (Project, bool, error) {
	absPath = filepath.Clean(absPath)

	p, err := s.projectByPath(ctx, absPath)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Project{}, false, err
	}

	name := filepath.Base(absPath)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO project (project_name, absolute_path, created_at) VALUES (?, ?, ?);`,
		name, absPath, utcNow())
	if err != nil {
		return Project{}, false, fmt.Errorf("create project %q: %w", absPath, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Project{}, false, err
	}
	s.logger.Info("project created", "project", name, "path", absPath, "project_id", id)

	p, err = s.ProjectByID(ctx, id)
	return p, true, err
}

func (s *Store) projectByPath(ctx context.Context, absPath string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, project_name, absolute_path, description_md, created_at
		 FROM project WHERE absolute_path = ?;`, absPath))
}

func (s *Store) ProjectByID(ctx context.Context, id int64) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, project_name, absolute_path, description_md, created_at
		 FROM project WHERE id = ?;`, id))
}

// SetProjectDescription attaches a markdown description to the project.
func (s *Store) SetProjectDescription(ctx context.Context, id int64, descriptionMD string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project SET description_md = ? WHERE id = ?;`, descriptionMD, id)
	if err != nil {
		return fmt.Errorf("set project description: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProject(row *sql.Row) (Project, error) {
	var p Project
	var desc sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.AbsolutePath, &desc, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	p.DescriptionMD = desc.String
	return p, nil
}
