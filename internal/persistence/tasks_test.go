package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/plantrack/plantrack/internal/persistence"
)

func seedContext(t *testing.T, store *persistence.Store) (persistence.User, persistence.Context) {
	t.Helper()
	u, p := seedWorkspace(t, store)
	c, err := store.CreateContext(context.Background(), persistence.CreateContextParams{
		Name: "rollout", UserID: u.ID, ProjectID: p.ID, SetActive: true, Actor: u.Name,
	})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	return u, c
}

func TestCreateTaskNumbersSequentially(t *testing.T) {
	store := openTestStore(t)
	u, c := seedContext(t, store)
	ctx := context.Background()

	for i, title := range []string{"stage", "canary", "full"} {
		task, err := store.CreateTask(ctx, c.ID, title, "", u.Name)
		if err != nil {
			t.Fatalf("CreateTask %q: %v", title, err)
		}
		if task.Number != int64(i+1) {
			t.Errorf("step %q number = %d, want %d", title, task.Number, i+1)
		}
		if task.Status != persistence.TaskPlanned {
			t.Errorf("step %q status = %q, want planned", title, task.Status)
		}
	}
}

func TestTaskNumbersSurviveDeletes(t *testing.T) {
	store := openTestStore(t)
	u, c := seedContext(t, store)
	ctx := context.Background()

	first, err := store.CreateTask(ctx, c.ID, "one", "", u.Name)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.CreateTask(ctx, c.ID, "two", "", u.Name); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := store.DeleteTask(ctx, first.ID, u.Name); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	third, err := store.CreateTask(ctx, c.ID, "three", "", u.Name)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if third.Number != 3 {
		t.Errorf("number after delete = %d, want 3 (numbers are never reused)", third.Number)
	}

	live, err := store.ListTasks(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("live steps = %d, want 2", len(live))
	}
	for _, task := range live {
		if task.ID == first.ID {
			t.Error("deleted step still listed")
		}
	}

	if _, err := store.TaskByNumber(ctx, c.ID, 1); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("deleted step resolvable by number: %v", err)
	}
	if got, err := store.TaskByNumber(ctx, c.ID, 3); err != nil || got.ID != third.ID {
		t.Errorf("TaskByNumber(3) = %d, %v; want %d", got.ID, err, third.ID)
	}
}

func TestSwitchTaskDemotesPreviousActive(t *testing.T) {
	store := openTestStore(t)
	u, c := seedContext(t, store)
	ctx := context.Background()

	a, err := store.CreateTask(ctx, c.ID, "alpha", "", u.Name)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	b, err := store.CreateTask(ctx, c.ID, "beta", "", u.Name)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := store.SwitchTask(ctx, c.ID, a.ID, u.Name); err != nil {
		t.Fatalf("SwitchTask a: %v", err)
	}
	if _, err := store.SwitchTask(ctx, c.ID, b.ID, u.Name); err != nil {
		t.Fatalf("SwitchTask b: %v", err)
	}

	gotA, err := store.TaskByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if gotA.Status != persistence.TaskPlanned {
		t.Errorf("previous active status = %q, want planned", gotA.Status)
	}

	active, err := store.ActiveTask(ctx, c.ID)
	if err != nil || active.ID != b.ID {
		t.Errorf("active step = %d, %v; want %d", active.ID, err, b.ID)
	}
}

func TestSwitchTaskRejectsForeignContext(t *testing.T) {
	store := openTestStore(t)
	u, c := seedContext(t, store)
	ctx := context.Background()

	other, err := store.CreateContext(ctx, persistence.CreateContextParams{
		Name: "other", UserID: u.ID, ProjectID: c.ProjectID,
	})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	task, err := store.CreateTask(ctx, other.ID, "stray", "", u.Name)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := store.SwitchTask(ctx, c.ID, task.ID, u.Name); err == nil {
		t.Error("switching to a step of another context should fail")
	}
}

func TestCompleteTaskClearsCursor(t *testing.T) {
	store := openTestStore(t)
	u, c := seedContext(t, store)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, c.ID, "ship it", "", u.Name)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.SwitchTask(ctx, c.ID, task.ID, u.Name); err != nil {
		t.Fatalf("SwitchTask: %v", err)
	}

	done, err := store.CompleteTask(ctx, task.ID, u.Name)
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if done.Status != persistence.TaskDone {
		t.Errorf("status = %q, want done", done.Status)
	}
	if done.CompletedAt == "" {
		t.Error("completed_at not set")
	}

	if _, err := store.ActiveTask(ctx, c.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("active step after completion = %v, want ErrNotFound", err)
	}

	log, err := store.TaskLog(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("TaskLog: %v", err)
	}
	var sawDone bool
	for _, e := range log {
		if e.Action == "step_done" {
			sawDone = true
		}
	}
	if !sawDone {
		t.Errorf("changelog missing step_done: %+v", log)
	}
}
