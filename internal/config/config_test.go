package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_DefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if !cfg.Workflow.RequireGoalAndPlan {
		t.Error("require_goal_and_plan should default on")
	}
	if cfg.Workflow.AllowReopenCompleted {
		t.Error("allow_reopen_completed should default off")
	}
	if !cfg.Workflow.DailyBackup {
		t.Error("daily_backup should default on")
	}
	if cfg.Workflow.BackupRetainDays != 7 {
		t.Errorf("backup_retain_days = %d, want 7", cfg.Workflow.BackupRetainDays)
	}
	if !cfg.Workflow.EnableSteps || !cfg.Workflow.EnableVersioning {
		t.Error("steps and versioning should default on")
	}
}

func TestLoadFrom_PartialFileKeepsOtherDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "workflow:\n  daily_backup: false\n  backup_retain_days: 30\n"
	if err := os.WriteFile(ConfigPath(dir), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Workflow.DailyBackup {
		t.Error("daily_backup override lost")
	}
	if cfg.Workflow.BackupRetainDays != 30 {
		t.Errorf("backup_retain_days = %d, want 30", cfg.Workflow.BackupRetainDays)
	}
	// Untouched keys keep their defaults.
	if !cfg.Workflow.RequireGoalAndPlan {
		t.Error("require_goal_and_plan default lost")
	}
	if !cfg.Workflow.EnableSteps {
		t.Error("enable_steps default lost")
	}
}

func TestLoadFrom_MalformedFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(ConfigPath(dir), []byte(":\n  - not yaml ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom should tolerate a malformed file: %v", err)
	}
	if !cfg.Workflow.DailyBackup || cfg.Workflow.BackupRetainDays != 7 {
		t.Error("malformed config did not fall back to defaults")
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("PLANTRACK_LOG_LEVEL", "debug")
	t.Setenv("PLANTRACK_DAILY_BACKUP", "false")
	t.Setenv("PLANTRACK_BACKUP_RETAIN_DAYS", "14")
	t.Setenv("PLANTRACK_ENABLE_STEPS", "false")

	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Workflow.DailyBackup {
		t.Error("PLANTRACK_DAILY_BACKUP=false not applied")
	}
	if cfg.Workflow.BackupRetainDays != 14 {
		t.Errorf("backup_retain_days = %d, want 14", cfg.Workflow.BackupRetainDays)
	}
	if cfg.Workflow.EnableSteps {
		t.Error("PLANTRACK_ENABLE_STEPS=false not applied")
	}
}

func TestLoadFrom_InvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("PLANTRACK_DAILY_BACKUP", "sometimes")
	t.Setenv("PLANTRACK_BACKUP_RETAIN_DAYS", "a week")

	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !cfg.Workflow.DailyBackup {
		t.Error("unparseable bool should leave the default")
	}
	if cfg.Workflow.BackupRetainDays != 7 {
		t.Errorf("unparseable int should leave the default, got %d", cfg.Workflow.BackupRetainDays)
	}
}

func TestSet_PreservesUnrelatedKeys(t *testing.T) {
	dir := t.TempDir()
	content := "log_level: warn\nworkflow:\n  daily_backup: false\n"
	if err := os.WriteFile(ConfigPath(dir), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := Set(dir, "workflow", "backup_retain_days", 21); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Workflow.BackupRetainDays != 21 {
		t.Errorf("backup_retain_days = %d, want 21", cfg.Workflow.BackupRetainDays)
	}
	if cfg.Workflow.DailyBackup {
		t.Error("Set clobbered an unrelated workflow key")
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Set clobbered log_level, got %q", cfg.LogLevel)
	}
}

func TestSet_CreatesFileAndSection(t *testing.T) {
	dir := t.TempDir()
	if err := Set(dir, "workflow", "enable_versioning", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Workflow.EnableVersioning {
		t.Error("enable_versioning = true, want false")
	}
}

func TestFingerprint_TracksWorkflowChanges(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical configs produced different fingerprints")
	}
	b.Workflow.DailyBackup = false
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("changed config produced the same fingerprint")
	}
}
