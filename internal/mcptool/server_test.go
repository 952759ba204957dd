package mcptool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plantrack/plantrack/internal/config"
	"github.com/plantrack/plantrack/internal/persistence"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	dataDir := t.TempDir()
	cfg, err := config.LoadFrom(dataDir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := persistence.Open(context.Background(), config.DBPath(dataDir), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(Options{
		Store:     store,
		Workspace: t.TempDir(),
		Config:    cfg,
		Logger:    logger,
	})
}

func TestPlanNewCreatesActivePlanWithSteps(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	_, view, err := s.planNew(ctx, nil, PlanNewInput{
		Name:  "rollout",
		Title: "Ship the new ingest path",
		Steps: []string{"stage", "canary"},
	})
	if err != nil {
		t.Fatalf("plan_new: %v", err)
	}
	if view.Status != persistence.ContextActive {
		t.Errorf("status = %q, want active", view.Status)
	}
	if len(view.Steps) != 2 || view.Steps[0].Number != 1 || view.Steps[1].Number != 2 {
		t.Errorf("steps = %+v, want numbers 1 and 2", view.Steps)
	}

	_, status, err := s.planStatus(ctx, nil, PlanRefInput{})
	if err != nil {
		t.Fatalf("plan_status: %v", err)
	}
	if status.Name != "rollout" || status.Total != 2 || status.Done != 0 {
		t.Errorf("status = %+v", status)
	}
}

func TestPlanDoneRequiresGoalAndPlan(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	if _, _, err := s.planNew(ctx, nil, PlanNewInput{Name: "hardening"}); err != nil {
		t.Fatalf("plan_new: %v", err)
	}

	_, _, err := s.planDone(ctx, nil, PlanRefInput{})
	if !errors.Is(err, persistence.ErrGoalPlanRequired) {
		t.Fatalf("plan_done = %v, want ErrGoalPlanRequired", err)
	}

	for kind, text := range map[string]string{"goal": "no shared secrets", "plan": "rotate then audit"} {
		if _, _, err := s.planNotesAdd(ctx, nil, NoteAddInput{Text: text, Kind: kind}); err != nil {
			t.Fatalf("plan_notes_add %s: %v", kind, err)
		}
	}

	_, view, err := s.planDone(ctx, nil, PlanRefInput{})
	if err != nil {
		t.Fatalf("plan_done after notes: %v", err)
	}
	if view.Status != persistence.ContextCompleted {
		t.Errorf("status = %q, want completed", view.Status)
	}
	if view.Goal == "" || view.Plan == "" {
		t.Errorf("view missing goal/plan: %+v", view)
	}
}

func TestPlanDoneWithGateDisabled(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Workflow.RequireGoalAndPlan = false
	})
	ctx := context.Background()

	if _, _, err := s.planNew(ctx, nil, PlanNewInput{Name: "quick fix"}); err != nil {
		t.Fatalf("plan_new: %v", err)
	}
	if _, _, err := s.planDone(ctx, nil, PlanRefInput{}); err != nil {
		t.Fatalf("plan_done without gate: %v", err)
	}
}

func TestStepLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	if _, _, err := s.planNew(ctx, nil, PlanNewInput{Name: "rollout", Steps: []string{"stage", "canary", "full"}}); err != nil {
		t.Fatalf("plan_new: %v", err)
	}

	_, view, err := s.stepSwitch(ctx, nil, StepRefInput{Number: 2})
	if err != nil {
		t.Fatalf("plan_step_switch: %v", err)
	}
	if !view.Steps[1].Active || view.Steps[1].Status != persistence.TaskActive {
		t.Errorf("step 2 not active: %+v", view.Steps)
	}

	_, view, err = s.stepDone(ctx, nil, StepRefInput{Number: 2})
	if err != nil {
		t.Fatalf("plan_step_done: %v", err)
	}
	if view.Steps[1].Status != persistence.TaskDone {
		t.Errorf("step 2 status = %q, want done", view.Steps[1].Status)
	}

	_, view, err = s.stepDelete(ctx, nil, StepRefInput{Number: 3})
	if err != nil {
		t.Fatalf("plan_step_delete: %v", err)
	}
	if len(view.Steps) != 2 {
		t.Errorf("steps after delete = %+v, want 2", view.Steps)
	}

	if _, _, err := s.stepSwitch(ctx, nil, StepRefInput{Number: 9}); err == nil {
		t.Error("switching to a missing step should fail")
	}
}

func TestStepNotesDefaultToActiveStep(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	if _, _, err := s.planNew(ctx, nil, PlanNewInput{Name: "rollout", Steps: []string{"stage"}}); err != nil {
		t.Fatalf("plan_new: %v", err)
	}

	// No active step yet.
	if _, _, err := s.stepNotesAdd(ctx, nil, StepNoteInput{Text: "orphan"}); err == nil {
		t.Error("note without an active step should fail")
	}

	if _, _, err := s.stepSwitch(ctx, nil, StepRefInput{Number: 1}); err != nil {
		t.Fatalf("plan_step_switch: %v", err)
	}
	_, out, err := s.stepNotesAdd(ctx, nil, StepNoteInput{Text: "uses the blue pool"})
	if err != nil {
		t.Fatalf("plan_step_notes_add: %v", err)
	}
	if out.Step != 1 || len(out.Notes) != 1 {
		t.Errorf("out = %+v, want one note on step 1", out)
	}
}

func TestConfigSetPersistsAndReloads(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	_, out, err := s.configSet(ctx, nil, ConfigSetInput{
		Section: "workflow", Key: "require_goal_and_plan", Value: "false",
	})
	if err != nil {
		t.Fatalf("plan_config_set: %v", err)
	}
	if out.RequireGoalAndPlan {
		t.Error("snapshot still shows require_goal_and_plan true")
	}
	if s.workflow().RequireGoalAndPlan {
		t.Error("live config not reloaded")
	}

	// The written file must round-trip through a fresh load.
	cfg, err := config.LoadFrom(s.configSnapshot().DataDir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Workflow.RequireGoalAndPlan {
		t.Error("config.yaml did not persist the change")
	}
	if !cfg.Workflow.DailyBackup {
		t.Error("unrelated defaults lost on set")
	}
}

func listToolNames(t *testing.T, s *Server) map[string]bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: "test"}, nil)
	s.Register(srv)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	return names
}

func TestRegisterWithholdsDisabledTools(t *testing.T) {
	full := listToolNames(t, newTestServer(t, nil))
	for _, name := range []string{"plan_new", "plan_step_new", "plan_checkpoint", "plan_config_set"} {
		if !full[name] {
			t.Errorf("full config missing tool %s", name)
		}
	}

	trimmed := listToolNames(t, newTestServer(t, func(cfg *config.Config) {
		cfg.Workflow.EnableSteps = false
		cfg.Workflow.EnableVersioning = false
	}))
	for _, name := range []string{"plan_step_new", "plan_step_done", "plan_step_notes_add", "plan_checkpoint", "plan_log", "plan_restore"} {
		if trimmed[name] {
			t.Errorf("disabled tool %s still listed", name)
		}
	}
	if !trimmed["plan_new"] || !trimmed["plan_notes_add"] {
		t.Error("plan tools must survive the step/versioning toggles")
	}
}

func TestCheckpointAndLog(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	s := newTestServer(t, nil)
	ctx := context.Background()

	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = s.workspace
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	if _, _, err := s.planNew(ctx, nil, PlanNewInput{Name: "rollout", Steps: []string{"stage"}}); err != nil {
		t.Fatalf("plan_new: %v", err)
	}
	if _, _, err := s.stepSwitch(ctx, nil, StepRefInput{Number: 1}); err != nil {
		t.Fatalf("plan_step_switch: %v", err)
	}
	if err := os.WriteFile(s.workspace+"/main.go", []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, cp, err := s.checkpoint(ctx, nil, CheckpointInput{Message: "wire the stage env"})
	if err != nil {
		t.Fatalf("plan_checkpoint: %v", err)
	}
	if cp.SHA == "" || cp.Plan != "rollout" || cp.Step != 1 {
		t.Errorf("checkpoint = %+v", cp)
	}

	_, log, err := s.checkpointLog(ctx, nil, LogInput{})
	if err != nil {
		t.Fatalf("plan_log: %v", err)
	}
	if len(log.Commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(log.Commits))
	}
	c := log.Commits[0]
	if c.Subject != "wire the stage env" || c.Plan != "rollout" || c.Step != 1 {
		t.Errorf("commit = %+v", c)
	}

	// A clean tree reports instead of failing.
	_, cp, err = s.checkpoint(ctx, nil, CheckpointInput{Message: "noop"})
	if err != nil || !cp.Clean {
		t.Errorf("clean checkpoint = %+v, %v", cp, err)
	}
}
