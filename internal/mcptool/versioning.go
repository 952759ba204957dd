package mcptool

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plantrack/plantrack/internal/persistence"
	"github.com/plantrack/plantrack/internal/vcs"
)

// checkpointTag builds the commit trailer for the caller's current position:
// user always, active plan and step when present.
func (s *Server) checkpointTag(ctx context.Context, sess session) vcs.Tag {
	tag := vcs.Tag{User: sess.user.Name}
	c, err := s.store.ActiveContext(ctx, sess.user.ID, sess.project.ID)
	if err != nil {
		return tag
	}
	tag.Plan = c.Name
	if task, err := s.store.ActiveTask(ctx, c.ID); err == nil {
		tag.Step = int(task.Number)
	}
	return tag
}

type CheckpointInput struct {
	Message string `json:"message" jsonschema:"commit message subject"`
}

type CheckpointOutput struct {
	SHA   string `json:"sha,omitempty"`
	Clean bool   `json:"clean,omitempty" jsonschema:"true when there was nothing to commit"`
	Plan  string `json:"plan,omitempty"`
	Step  int    `json:"step,omitempty"`
}

func (s *Server) checkpoint(ctx context.Context, _ *mcp.CallToolRequest, in CheckpointInput) (res *mcp.CallToolResult, out CheckpointOutput, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_checkpoint")
	if err != nil {
		return nil, CheckpointOutput{}, err
	}
	defer func() { finish(err) }()

	if in.Message == "" {
		return nil, CheckpointOutput{}, fmt.Errorf("message is required")
	}
	if !s.repo.IsRepo(ctx) {
		return nil, CheckpointOutput{}, fmt.Errorf("%s is not a git repository", s.workspace)
	}

	tag := s.checkpointTag(ctx, sess)
	sha, err := s.repo.Checkpoint(ctx, in.Message, tag)
	if errors.Is(err, vcs.ErrCleanTree) {
		return nil, CheckpointOutput{Clean: true, Plan: tag.Plan, Step: tag.Step}, nil
	}
	if err != nil {
		return nil, CheckpointOutput{}, err
	}
	if s.metrics != nil {
		s.metrics.CheckpointsTotal.Add(ctx, 1)
	}
	if c, cerr := s.store.ActiveContext(ctx, sess.user.ID, sess.project.ID); cerr == nil {
		_, _ = s.store.AddContextNote(ctx, c.ID, persistence.NoteKindNote,
			fmt.Sprintf("checkpoint %s: %s", sha[:12], in.Message), sess.user.Name)
	}
	return nil, CheckpointOutput{SHA: sha, Plan: tag.Plan, Step: tag.Step}, nil
}

type LogInput struct {
	Max int `json:"max,omitempty" jsonschema:"maximum commits to return; defaults to 50"`
}

type CommitView struct {
	SHA     string `json:"sha"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
	User    string `json:"user,omitempty" jsonschema:"tag trailer user"`
	Plan    string `json:"plan,omitempty" jsonschema:"tag trailer plan"`
	Step    int    `json:"step,omitempty" jsonschema:"tag trailer step"`
}

type LogOutput struct {
	Commits []CommitView `json:"commits"`
}

func (s *Server) checkpointLog(ctx context.Context, _ *mcp.CallToolRequest, in LogInput) (res *mcp.CallToolResult, out LogOutput, err error) {
	ctx, _, finish, err := s.begin(ctx, "plan_log")
	if err != nil {
		return nil, LogOutput{}, err
	}
	defer func() { finish(err) }()

	commits, err := s.repo.Log(ctx, in.Max)
	if err != nil {
		return nil, LogOutput{}, err
	}
	for _, c := range commits {
		view := CommitView{
			SHA:     c.SHA,
			Author:  c.Author,
			Date:    c.Date,
			Subject: vcs.StripTag(c.Subject),
		}
		if c.Tagged {
			view.User = c.Tag.User
			view.Plan = c.Tag.Plan
			view.Step = c.Tag.Step
		}
		out.Commits = append(out.Commits, view)
	}
	return nil, out, nil
}

type RestoreInput struct {
	SHA string `json:"sha" jsonschema:"checkpoint commit to undo"`
}

type RestoreOutput struct {
	SHA string `json:"sha"`
}

func (s *Server) restore(ctx context.Context, _ *mcp.CallToolRequest, in RestoreInput) (res *mcp.CallToolResult, out RestoreOutput, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_restore")
	if err != nil {
		return nil, RestoreOutput{}, err
	}
	defer func() { finish(err) }()

	if in.SHA == "" {
		return nil, RestoreOutput{}, fmt.Errorf("sha is required")
	}
	if err = s.repo.Restore(ctx, in.SHA); err != nil {
		return nil, RestoreOutput{}, err
	}
	if c, cerr := s.store.ActiveContext(ctx, sess.user.ID, sess.project.ID); cerr == nil {
		_, _ = s.store.AddContextNote(ctx, c.ID, persistence.NoteKindNote,
			fmt.Sprintf("restored checkpoint %s", in.SHA), sess.user.Name)
	}
	return nil, RestoreOutput{SHA: in.SHA}, nil
}
