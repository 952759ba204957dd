// Package mcptool exposes the plan store over MCP stdio. Each tool resolves
// the calling OS user and the workspace project, then delegates to the
// persistence layer.
package mcptool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/plantrack/plantrack/internal/config"
	otelpkg "github.com/plantrack/plantrack/internal/otel"
	"github.com/plantrack/plantrack/internal/persistence"
	"github.com/plantrack/plantrack/internal/shared"
	"github.com/plantrack/plantrack/internal/vcs"
)

const serverName = "plantrack"

// Options configures the tool server.
type Options struct {
	Store *persistence.Store
	// Workspace is the absolute path of the directory being tracked; it
	// resolves the project row and hosts the git checkpoints.
	Workspace string
	Config    config.Config
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Metrics   *otelpkg.Metrics
}

// Server holds the shared state behind every tool handler.
type Server struct {
	store     *persistence.Store
	workspace string
	repo      *vcs.Repo
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *otelpkg.Metrics

	mu  sync.RWMutex
	cfg config.Config
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(otelpkg.TracerName)
	}
	return &Server{
		store:     opts.Store,
		workspace: opts.Workspace,
		repo:      vcs.NewRepo(opts.Workspace, logger),
		logger:    logger,
		tracer:    tracer,
		metrics:   opts.Metrics,
		cfg:       opts.Config,
	}
}

// SetConfig swaps the active configuration; the config watcher calls this on
// reload. Tool visibility is fixed at registration, behavior toggles apply
// immediately.
func (s *Server) SetConfig(cfg config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Server) configSnapshot() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) workflow() config.WorkflowConfig {
	return s.configSnapshot().Workflow
}

// Register adds every enabled tool to the MCP server. Step tools are
// withheld when enable_steps is off, versioning tools when
// enable_versioning is off.
func (s *Server) Register(m *mcp.Server) {
	wf := s.workflow()

	mcp.AddTool(m, &mcp.Tool{Name: "plan_new", Description: "Create a plan in this project and make it active"}, s.planNew)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_switch", Description: "Make another plan the active one"}, s.planSwitch)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_done", Description: "Complete the active or named plan"}, s.planDone)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_list", Description: "List plans in this project"}, s.planList)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_show", Description: "Show a plan with its goal, plan note, and steps"}, s.planShow)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_status", Description: "Summarize the active plan's progress"}, s.planStatus)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_notes_add", Description: "Attach a goal, plan, or note to a plan"}, s.planNotesAdd)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_notes_list", Description: "List a plan's notes"}, s.planNotesList)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_config_show", Description: "Show the active configuration"}, s.configShow)
	mcp.AddTool(m, &mcp.Tool{Name: "plan_config_set", Description: "Set one configuration key"}, s.configSet)

	if wf.EnableSteps {
		mcp.AddTool(m, &mcp.Tool{Name: "plan_step_new", Description: "Add a step to a plan"}, s.stepNew)
		mcp.AddTool(m, &mcp.Tool{Name: "plan_step_switch", Description: "Start working on a step"}, s.stepSwitch)
		mcp.AddTool(m, &mcp.Tool{Name: "plan_step_done", Description: "Complete a step"}, s.stepDone)
		mcp.AddTool(m, &mcp.Tool{Name: "plan_step_list", Description: "List a plan's steps"}, s.stepList)
		mcp.AddTool(m, &mcp.Tool{Name: "plan_step_delete", Description: "Remove a step; its number is never reused"}, s.stepDelete)
		mcp.AddTool(m, &mcp.Tool{Name: "plan_step_notes_add", Description: "Attach a note to a step"}, s.stepNotesAdd)
	}
	if wf.EnableVersioning {
		mcp.AddTool(m, &mcp.Tool{Name: "plan_checkpoint", Description: "Commit the workspace as a tagged checkpoint"}, s.checkpoint)
		mcp.AddTool(m, &mcp.Tool{Name: "plan_log", Description: "List checkpoint commits"}, s.checkpointLog)
		mcp.AddTool(m, &mcp.Tool{Name: "plan_restore", Description: "Undo a checkpoint's source changes; the store is never touched"}, s.restore)
	}
}

// Serve runs the MCP server on stdio until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	m := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: otelpkg.Version}, nil)
	s.Register(m)
	s.logger.Info("mcp server listening on stdio", "config", s.configSnapshot().Fingerprint())
	return m.Run(ctx, &mcp.StdioTransport{})
}

// session is the per-call identity every tool operates under.
type session struct {
	user    persistence.User
	project persistence.Project
}

// begin resolves the session, stamps the context with trace and actor
// metadata, and opens the server span. The returned func closes the span and
// records tool metrics; call it with the handler's final error.
func (s *Server) begin(ctx context.Context, tool string) (context.Context, session, func(error), error) {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx = shared.WithProjectPath(ctx, s.workspace)

	login := persistence.OSUser()
	user, err := s.store.GetOrCreateUser(ctx, login)
	if err != nil {
		return ctx, session{}, nil, err
	}
	project, _, err := s.store.EnsureProject(ctx, s.workspace)
	if err != nil {
		return ctx, session{}, nil, err
	}
	ctx = shared.WithActor(ctx, user.Name)

	ctx, span := otelpkg.StartServerSpan(ctx, s.tracer, tool,
		otelpkg.AttrToolName.String(tool),
		otelpkg.AttrUser.String(user.Name),
		otelpkg.AttrProject.String(s.workspace),
	)
	start := time.Now()
	logger := s.logger.With("tool", tool, "trace_id", shared.TraceID(ctx))
	logger.Debug("tool call started")

	finish := func(callErr error) {
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ToolCallDuration.Record(ctx, elapsed.Seconds())
			if callErr != nil {
				s.metrics.ToolCallErrors.Add(ctx, 1)
			}
		}
		if callErr != nil {
			span.RecordError(callErr)
			logger.Warn("tool call failed", "error", callErr, "elapsed", elapsed)
		} else {
			logger.Debug("tool call finished", "elapsed", elapsed)
		}
		span.End()
	}
	return ctx, session{user: user, project: project}, finish, nil
}
