package persistence_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/plantrack/plantrack/internal/migrate"
	"github.com/plantrack/plantrack/internal/persistence"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "plan.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := persistence.Open(context.Background(), dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedWorkspace creates the user/project pair most tests operate in.
func seedWorkspace(t *testing.T, store *persistence.Store) (persistence.User, persistence.Project) {
	t.Helper()
	ctx := context.Background()
	u, err := store.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	p, _, err := store.EnsureProject(ctx, "/srv/demo")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return u, p
}

func TestOpenConfiguresWALAndMigrates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var mode string
	if err := store.DB().QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil {
		t.Fatalf("read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	version, err := migrate.CurrentVersion(ctx, store.DB())
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if want := migrate.Shipped().Latest(); version != want {
		t.Errorf("schema version = %d, want %d", version, want)
	}
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := store.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same login produced two users: %d and %d", first.ID, second.ID)
	}
	if first.Display() != "alice" {
		t.Errorf("Display = %q, want login fallback", first.Display())
	}

	if err := store.SetUserDisplayName(ctx, first.ID, "Alice L"); err != nil {
		t.Fatalf("SetUserDisplayName: %v", err)
	}
	u, err := store.UserByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if u.Display() != "Alice L" {
		t.Errorf("Display = %q, want Alice L", u.Display())
	}
}

func TestSetUserDisplayNameMissingUser(t *testing.T) {
	store := openTestStore(t)
	err := store.SetUserDisplayName(context.Background(), 404, "ghost")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEnsureProjectByPath(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p, created, err := store.EnsureProject(ctx, "/srv/demo")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	if !created {
		t.Error("first EnsureProject should create")
	}
	if p.Name != "demo" {
		t.Errorf("project name = %q, want demo (path base)", p.Name)
	}

	again, created, err := store.EnsureProject(ctx, "/srv/demo")
	if err != nil {
		t.Fatalf("second EnsureProject: %v", err)
	}
	if created {
		t.Error("second EnsureProject should reuse")
	}
	if again.ID != p.ID {
		t.Errorf("same path produced two projects: %d and %d", p.ID, again.ID)
	}

	other, created, err := store.EnsureProject(ctx, "/srv/other")
	if err != nil {
		t.Fatalf("EnsureProject other: %v", err)
	}
	if !created || other.ID == p.ID {
		t.Error("distinct paths must map to distinct projects")
	}
}
