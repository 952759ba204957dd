package mcptool

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plantrack/plantrack/internal/persistence"
)

// resolvePlan finds the context a tool call targets: the named one, or the
// caller's active context when ref is empty.
func (s *Server) resolvePlan(ctx context.Context, sess session, ref string) (persistence.Context, error) {
	if ref != "" {
		return s.store.ResolveContext(ctx, ref, sess.project.ID)
	}
	c, err := s.store.ActiveContext(ctx, sess.user.ID, sess.project.ID)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.Context{}, fmt.Errorf("no active plan; name one or create it with plan_new")
	}
	return c, err
}

// StepView is one step row in plan output.
type StepView struct {
	Number int64  `json:"number" jsonschema:"step number within the plan"`
	Title  string `json:"title"`
	Status string `json:"status" jsonschema:"planned, active, or done"`
	Active bool   `json:"active,omitempty"`
}

// PlanView is the full rendering of one plan.
type PlanView struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	Title   string     `json:"title,omitempty"`
	Status  string     `json:"status"`
	Goal    string     `json:"goal,omitempty"`
	Plan    string     `json:"plan,omitempty"`
	Steps   []StepView `json:"steps,omitempty"`
	Project string     `json:"project"`
}

// planView assembles the show payload for a context.
func (s *Server) planView(ctx context.Context, sess session, c persistence.Context) (PlanView, error) {
	view := PlanView{
		ID:      c.ID,
		Name:    c.Name,
		Title:   c.DescriptionMD,
		Status:  c.Status,
		Project: sess.project.Name,
	}

	for _, kind := range []string{persistence.NoteKindGoal, persistence.NoteKindPlan} {
		notes, err := s.store.ListContextNotes(ctx, c.ID, kind)
		if err != nil {
			return PlanView{}, err
		}
		if len(notes) == 0 {
			continue
		}
		// The most recent goal/plan note wins.
		latest := notes[len(notes)-1].NoteMD
		if kind == persistence.NoteKindGoal {
			view.Goal = latest
		} else {
			view.Plan = latest
		}
	}

	tasks, err := s.store.ListTasks(ctx, c.ID)
	if err != nil {
		return PlanView{}, err
	}
	var activeNumber int64
	if active, err := s.store.ActiveTask(ctx, c.ID); err == nil {
		activeNumber = active.Number
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return PlanView{}, err
	}
	for _, task := range tasks {
		view.Steps = append(view.Steps, StepView{
			Number: task.Number,
			Title:  task.Title,
			Status: task.Status,
			Active: task.Number == activeNumber,
		})
	}
	return view, nil
}

type PlanNewInput struct {
	Name  string   `json:"name" jsonschema:"plan name, unique within the project"`
	Title string   `json:"title,omitempty" jsonschema:"optional one-line description"`
	Steps []string `json:"steps,omitempty" jsonschema:"optional initial step titles"`
}

func (s *Server) planNew(ctx context.Context, _ *mcp.CallToolRequest, in PlanNewInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_new")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	if in.Name == "" {
		return nil, PlanView{}, fmt.Errorf("name is required")
	}
	c, err := s.store.CreateContext(ctx, persistence.CreateContextParams{
		Name:          in.Name,
		DescriptionMD: in.Title,
		UserID:        sess.user.ID,
		ProjectID:     sess.project.ID,
		SetActive:     true,
		Actor:         sess.user.Name,
	})
	if err != nil {
		return nil, PlanView{}, err
	}
	for _, title := range in.Steps {
		if _, err = s.store.CreateTask(ctx, c.ID, title, "", sess.user.Name); err != nil {
			return nil, PlanView{}, err
		}
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

type PlanRefInput struct {
	Name string `json:"name,omitempty" jsonschema:"plan name or id; defaults to the active plan"`
}

func (s *Server) planSwitch(ctx context.Context, _ *mcp.CallToolRequest, in PlanRefInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_switch")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	if in.Name == "" {
		return nil, PlanView{}, fmt.Errorf("name is required")
	}
	c, err := s.store.ResolveContext(ctx, in.Name, sess.project.ID)
	if err != nil {
		return nil, PlanView{}, err
	}
	c, err = s.store.SwitchContext(ctx, c.ID, sess.user.ID, sess.project.ID,
		s.workflow().AllowReopenCompleted, sess.user.Name)
	if err != nil {
		return nil, PlanView{}, err
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

func (s *Server) planDone(ctx context.Context, _ *mcp.CallToolRequest, in PlanRefInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_done")
	if err != nil {
		return nil, PlanView{}, err
	}
	defer func() { finish(err) }()

	c, err := s.resolvePlan(ctx, sess, in.Name)
	if err != nil {
		return nil, PlanView{}, err
	}
	if err = s.store.CompleteContext(ctx, c.ID, s.workflow().RequireGoalAndPlan, sess.user.Name); err != nil {
		return nil, PlanView{}, err
	}
	c, err = s.store.ContextByID(ctx, c.ID)
	if err != nil {
		return nil, PlanView{}, err
	}
	out, err = s.planView(ctx, sess, c)
	return nil, out, err
}

type PlanListInput struct {
	All bool `json:"all,omitempty" jsonschema:"include completed plans"`
}

type PlanListEntry struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
	Active bool   `json:"active,omitempty"`
}

type PlanListOutput struct {
	Project string          `json:"project"`
	Plans   []PlanListEntry `json:"plans"`
}

func (s *Server) planList(ctx context.Context, _ *mcp.CallToolRequest, in PlanListInput) (res *mcp.CallToolResult, out PlanListOutput, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_list")
	if err != nil {
		return nil, PlanListOutput{}, err
	}
	defer func() { finish(err) }()

	contexts, err := s.store.ListContexts(ctx, sess.project.ID, in.All)
	if err != nil {
		return nil, PlanListOutput{}, err
	}
	var activeID int64
	if active, err := s.store.ActiveContext(ctx, sess.user.ID, sess.project.ID); err == nil {
		activeID = active.ID
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, PlanListOutput{}, err
	}

	out = PlanListOutput{Project: sess.project.Name}
	for _, c := range contexts {
		out.Plans = append(out.Plans, PlanListEntry{
			ID:     c.ID,
			Name:   c.Name,
			Title:  c.DescriptionMD,
			Status: c.Status,
			Active: c.ID == activeID,
		})
	}
	return nil, out, nil
}

func (s *Server) planShow(ctx context.Context, _ *mcp.CallToolRequest, in PlanRefInput) (res *mcp.CallToolResult, out PlanView, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_show")
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

type PlanStatusOutput struct {
	Name       string `json:"name"`
	Title      string `json:"title,omitempty"`
	ActiveStep int64  `json:"active_step,omitempty" jsonschema:"number of the step in progress"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	Project    string `json:"project"`
}

func (s *Server) planStatus(ctx context.Context, _ *mcp.CallToolRequest, in PlanRefInput) (res *mcp.CallToolResult, out PlanStatusOutput, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_status")
	if err != nil {
		return nil, PlanStatusOutput{}, err
	}
	defer func() { finish(err) }()

	c, err := s.resolvePlan(ctx, sess, in.Name)
	if err != nil {
		return nil, PlanStatusOutput{}, err
	}
	view, err := s.planView(ctx, sess, c)
	if err != nil {
		return nil, PlanStatusOutput{}, err
	}
	out = PlanStatusOutput{
		Name:    view.Name,
		Title:   view.Title,
		Total:   len(view.Steps),
		Project: view.Project,
	}
	for _, step := range view.Steps {
		if step.Status == persistence.TaskDone {
			out.Done++
		}
		if step.Active {
			out.ActiveStep = step.Number
		}
	}
	return nil, out, nil
}
