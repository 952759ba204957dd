package mcptool

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plantrack/plantrack/internal/persistence"
)

type StepNewInput struct {
	Title       string `json:"title" jsonschema:"step title"`
	Description string `json:"description,omitempty" jsonschema:"optional markdown body"`
	Plan        string `json:"plan,omitempty" jsonschema:"plan name or id; defaults to the active plan"`
}

func (s *Server) stepNew(ctx context.Context, _ *mcp.CallToolRequest, in StepNewInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_step_new")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	if in.Title == "" {
		return nil, PlanView{}, fmt.Errorf("title is required")
	}
	c, err := s.resolvePlan(ctx, sess, in.Plan)
	if err != nil {
		return nil, PlanView{}, err
	}
	if _, err = s.store.CreateTask(ctx, c.ID, in.Title, in.Description, sess.user.Name); err != nil {
		return nil, PlanView{}, err
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

type StepRefInput struct {
	Number int64  `json:"number" jsonschema:"step number within the plan"`
	Plan   string `json:"plan,omitempty" jsonschema:"plan name or id; defaults to the active plan"`
}

// stepByRef resolves a step number within the targeted plan.
func (s *Server) stepByRef(ctx context.Context, sess session, in StepRefInput) (persistence.Context, persistence.Task, error) {
	c, err := s.resolvePlan(ctx, sess, in.Plan)
	if err != nil {
		return persistence.Context{}, persistence.Task{}, err
	}
	if in.Number <= 0 {
		return persistence.Context{}, persistence.Task{}, fmt.Errorf("step number is required")
	}
	task, err := s.store.TaskByNumber(ctx, c.ID, in.Number)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.Context{}, persistence.Task{}, fmt.Errorf("plan %q has no step %d", c.Name, in.Number)
	}
	return c, task, err
}

func (s *Server) stepSwitch(ctx context.Context, _ *mcp.CallToolRequest, in StepRefInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_step_switch")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	c, task, err := s.stepByRef(ctx, sess, in)
	if err != nil {
		return nil, PlanView{}, err
	}
	if _, err = s.store.SwitchTask(ctx, c.ID, task.ID, sess.user.Name); err != nil {
		return nil, PlanView{}, err
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

func (s *Server) stepDone(ctx context.Context, _ *mcp.CallToolRequest, in StepRefInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_step_done")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	c, task, err := s.stepByRef(ctx, sess, in)
	if err != nil {
		return nil, PlanView{}, err
	}
	if _, err = s.store.CompleteTask(ctx, task.ID, sess.user.Name); err != nil {
		return nil, PlanView{}, err
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

func (s *Server) stepDelete(ctx context.Context, _ *mcp.CallToolRequest, in StepRefInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_step_delete")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	c, task, err := s.stepByRef(ctx, sess, in)
	if err != nil {
		return nil, PlanView{}, err
	}
	if err = s.store.DeleteTask(ctx, task.ID, sess.user.Name); err != nil {
		return nil, PlanView{}, err
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

func (s *Server) stepList(ctx context.Context, _ *mcp.CallToolRequest, in PlanRefInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_step_list")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	c, err := s.resolvePlan(ctx, sess, in.Name)
	if err != nil {
		return nil, PlanView{}, err
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

type StepNoteInput struct {
	Text   string `json:"text" jsonschema:"note body"`
	Number int64  `json:"number,omitempty" jsonschema:"step number; defaults to the active step"`
	Plan   string `json:"plan,omitempty" jsonschema:"plan name or id; defaults to the active plan"`
}

type StepNotesOutput struct {
	Plan  string     `json:"plan"`
	Step  int64      `json:"step"`
	Notes []NoteView `json:"notes"`
}

func (s *Server) stepNotesAdd(ctx context.Context, _ *mcp.CallToolRequest, in StepNoteInput) (res *mcp.CallToolResult, out StepNotesOutput, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_step_notes_add")
	if err != nil {
		return nil, StepNotesOutput{}, err
	}
	defer func() { finish(err) }()

	if in.Text == "" {
		return nil, StepNotesOutput{}, fmt.Errorf("text is required")
	}
	c, err := s.resolvePlan(ctx, sess, in.Plan)
	if err != nil {
		return nil, StepNotesOutput{}, err
	}

	var task persistence.Task
	if in.Number > 0 {
		task, err = s.store.TaskByNumber(ctx, c.ID, in.Number)
	} else {
		task, err = s.store.ActiveTask(ctx, c.ID)
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, StepNotesOutput{}, fmt.Errorf("no active step in plan %q; pass a step number", c.Name)
		}
	}
	if err != nil {
		return nil, StepNotesOutput{}, err
	}

	if _, err = s.store.AddTaskNote(ctx, task.ID, in.Text, sess.user.Name); err != nil {
		return nil, StepNotesOutput{}, err
	}
	notes, err := s.store.ListTaskNotes(ctx, task.ID)
	if err != nil {
		return nil, StepNotesOutput{}, err
	}
	out = StepNotesOutput{Plan: c.Name, Step: task.Number}
	for _, n := range notes {
		out.Notes = append(out.Notes, NoteView{Text: n.NoteMD, CreatedAt: n.CreatedAt})
	}
	return nil, out, nil
}
