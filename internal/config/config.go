package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/plantrack/plantrack/internal/otel"
)

// WorkflowConfig holds the behavior toggles consulted by the planning tools.
type WorkflowConfig struct {
	// RequireGoalAndPlan blocks completing a context until it carries a goal
	// note and a plan note.
	RequireGoalAndPlan bool `yaml:"require_goal_and_plan"`
	// AllowReopenCompleted permits switching back to a completed context.
	AllowReopenCompleted bool `yaml:"allow_reopen_completed"`
	// DailyBackup enables the once-per-day store backup.
	DailyBackup bool `yaml:"daily_backup"`
	// BackupRetainDays is the age limit for pruning backups. Non-positive
	// disables pruning.
	BackupRetainDays int `yaml:"backup_retain_days"`
	// EnableSteps exposes the step-level tools.
	EnableSteps bool `yaml:"enable_steps"`
	// EnableVersioning exposes the git checkpoint/restore tools.
	EnableVersioning bool `yaml:"enable_versioning"`
}

type Config struct {
	DataDir string `yaml:"-"`

	LogLevel string         `yaml:"log_level"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Otel     otel.Config    `yaml:"otel"`
}

// ConfigPath returns the path to config.yaml within the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// DBPath returns the path to the task store within the given data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "plan.db")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Workflow: WorkflowConfig{
			RequireGoalAndPlan:   true,
			AllowReopenCompleted: false,
			DailyBackup:          true,
			BackupRetainDays:     7,
			EnableSteps:          true,
			EnableVersioning:     true,
		},
	}
}

// DataDir resolves the data directory: PLANTRACK_HOME when set, otherwise
// ~/.plantrack.
func DataDir() string {
	if override := os.Getenv("PLANTRACK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".plantrack")
}

// Load reads config.yaml from the data directory, merging it over the
// defaults. A missing or malformed file yields the defaults: configuration
// problems must never keep the store from opening.
func Load() (Config, error) {
	return LoadFrom(DataDir())
}

func LoadFrom(dataDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.DataDir = dataDir

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create data directory: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.DataDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		// Unmarshal over the populated defaults: absent keys keep their
		// default values, a malformed file is ignored wholesale.
		candidate := cfg
		if yaml.Unmarshal(data, &candidate) == nil {
			cfg = candidate
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Workflow.BackupRetainDays < 0 {
		cfg.Workflow.BackupRetainDays = 0
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("PLANTRACK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("PLANTRACK_DAILY_BACKUP"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Workflow.DailyBackup = v
		}
	}
	if raw := os.Getenv("PLANTRACK_BACKUP_RETAIN_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Workflow.BackupRetainDays = v
		}
	}
	if raw := os.Getenv("PLANTRACK_REQUIRE_GOAL_AND_PLAN"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Workflow.RequireGoalAndPlan = v
		}
	}
	if raw := os.Getenv("PLANTRACK_ALLOW_REOPEN_COMPLETED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Workflow.AllowReopenCompleted = v
		}
	}
	if raw := os.Getenv("PLANTRACK_ENABLE_STEPS"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Workflow.EnableSteps = v
		}
	}
	if raw := os.Getenv("PLANTRACK_ENABLE_VERSIONING"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Workflow.EnableVersioning = v
		}
	}
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map
// if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// Set updates a single key within a section of config.yaml, preserving every
// other setting in the file.
func Set(dataDir, section, key string, value any) error {
	configPath := ConfigPath(dataDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	sec, _ := raw[section].(map[string]interface{})
	if sec == nil {
		sec = make(map[string]interface{})
	}
	sec[key] = value
	raw[section] = sec
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config, logged on load and
// reload so drift between processes is visible.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|goalplan=%t|reopen=%t|daily=%t|retain=%d|steps=%t|versioning=%t",
		c.LogLevel, c.Workflow.RequireGoalAndPlan, c.Workflow.AllowReopenCompleted,
		c.Workflow.DailyBackup, c.Workflow.BackupRetainDays,
		c.Workflow.EnableSteps, c.Workflow.EnableVersioning)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
