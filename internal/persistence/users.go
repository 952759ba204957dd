package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	osuser "os/user"
)

type User struct {
	ID          int64
	Name        string
	DisplayName string
	CreatedAt   string
}

// OSUser returns the login name of the operating-system user running this
// process. Every tool call is attributed to this identity.
func OSUser() string {
	if u, err := osuser.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "unknown"
}

// GetOrCreateUser looks up a user by login name, creating the row on first
// contact.
func (s *Store) GetOrCreateUser(ctx context.Context, name string) (User, error) {
	u, err := s.userByName(ctx, name)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, created_at) VALUES (?, ?);`, name, utcNow())
	if err != nil {
		return User{}, fmt.Errorf("create user %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user created", "user", name, "user_id", id)
	return s.UserByID(ctx, id)
}

func (s *Store) userByName(ctx context.Context, name string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, created_at FROM users WHERE name = ?;`, name))
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, created_at FROM users WHERE id = ?;`, id))
}

// SetUserDisplayName records a human-readable name shown in reports instead
// of the OS login.
func (s *Store) SetUserDisplayName(ctx context.Context, id int64, displayName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = ? WHERE id = ?;`, displayName, id)
	if err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Display returns the user's display name, falling back to the login name.
func (u User) Display() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var display sql.NullString
	err := row.Scan(&u.ID, &u.Name, &display, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.DisplayName = display.String
	return u, nil
}
