package mcptool

import (
	"context"
	"fmt"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plantrack/plantrack/internal/config"
)

type ConfigShowInput struct{}

type ConfigShowOutput struct {
	File                 string `json:"file" jsonschema:"path of config.yaml"`
	LogLevel             string `json:"log_level"`
	RequireGoalAndPlan   bool   `json:"require_goal_and_plan"`
	AllowReopenCompleted bool   `json:"allow_reopen_completed"`
	DailyBackup          bool   `json:"daily_backup"`
	BackupRetainDays     int    `json:"backup_retain_days"`
	EnableSteps          bool   `json:"enable_steps"`
	EnableVersioning     bool   `json:"enable_versioning"`
}

func snapshotOutput(cfg config.Config) ConfigShowOutput {
	return ConfigShowOutput{
		File:                 config.ConfigPath(cfg.DataDir),
		LogLevel:             cfg.LogLevel,
		RequireGoalAndPlan:   cfg.Workflow.RequireGoalAndPlan,
		AllowReopenCompleted: cfg.Workflow.AllowReopenCompleted,
		DailyBackup:          cfg.Workflow.DailyBackup,
		BackupRetainDays:     cfg.Workflow.BackupRetainDays,
		EnableSteps:          cfg.Workflow.EnableSteps,
		EnableVersioning:     cfg.Workflow.EnableVersioning,
	}
}

func (s *Server) configShow(ctx context.Context, _ *mcp.CallToolRequest, _ ConfigShowInput) (res *mcp.CallToolResult, out ConfigShowOutput, err error) {
	_, _, finish, err := s.begin(ctx, "plan_config_show")
	if err != nil {
		return nil, ConfigShowOutput{}, err
	}
	defer func() { finish(err) }()

	return nil, snapshotOutput(s.configSnapshot()), nil
}

type ConfigSetInput struct {
	Section string `json:"section" jsonschema:"config section, e.g. workflow"`
	Key     string `json:"key" jsonschema:"key within the section"`
	Value   string `json:"value" jsonschema:"new value; booleans and integers are coerced"`
}

func (s *Server) configSet(ctx context.Context, _ *mcp.CallToolRequest, in ConfigSetInput) (res *mcp.CallToolResult, out ConfigShowOutput, err error) {
	_, _, finish, err := s.begin(ctx, "plan_config_set")
	if err != nil {
		return nil, ConfigShowOutput{}, err
	}
	defer func() { finish(err) }()

	if in.Section == "" || in.Key == "" || in.Value == "" {
		return nil, ConfigShowOutput{}, fmt.Errorf("section, key, and value are required")
	}

	dataDir := s.configSnapshot().DataDir
	if err = config.Set(dataDir, in.Section, in.Key, coerceValue(in.Value)); err != nil {
		return nil, ConfigShowOutput{}, err
	}
	cfg, err := config.LoadFrom(dataDir)
	if err != nil {
		return nil, ConfigShowOutput{}, err
	}
	s.SetConfig(cfg)
	s.logger.Info("config updated", "section", in.Section, "key", in.Key, "config", cfg.Fingerprint())
	return nil, snapshotOutput(cfg), nil
}

// coerceValue maps the string argument onto the YAML scalar it spells.
func coerceValue(raw string) any {
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return raw
}
