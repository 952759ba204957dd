package mcptool

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type NoteAddInput struct {
	Text string `json:"text" jsonschema:"note body, markdown"`
	Plan string `json:"plan,omitempty" jsonschema:"plan name or id; defaults to the active plan"`
	Kind string `json:"kind,omitempty" jsonschema:"goal, plan, or note; defaults to note"`
}

type NoteView struct {
	Kind      string `json:"kind,omitempty"`
	Text      string `json:"text"`
	Actor     string `json:"actor,omitempty"`
	CreatedAt string `json:"created_at"`
}

type NotesOutput struct {
	Plan  string     `json:"plan"`
	Notes []NoteView `json:"notes"`
}

func (s *Server) planNotesAdd(ctx context.Context, _ *mcp.CallToolRequest, in NoteAddInput) (res *mcp.CallToolResult, out NotesOutput, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_notes_add")
	if err != nil {
		return nil, NotesOutput{}, err
	}
	defer func() { finish(err) }()

	if in.Text == "" {
		return nil, NotesOutput{}, fmt.Errorf("text is required")
	}
	c, err := s.resolvePlan(ctx, sess, in.Plan)
	if err != nil {
		return nil, NotesOutput{}, err
	}
	if _, err = s.store.AddContextNote(ctx, c.ID, in.Kind, in.Text, sess.user.Name); err != nil {
		return nil, NotesOutput{}, err
	}
	return s.listPlanNotes(ctx, c.ID, c.Name, "")
}

type NotesListInput struct {
	Plan string `json:"plan,omitempty" jsonschema:"plan name or id; defaults to the active plan"`
	Kind string `json:"kind,omitempty" jsonschema:"filter to goal, plan, or note"`
}

func (s *Server) planNotesList(ctx context.Context, _ *mcp.CallToolRequest, in NotesListInput) (res *mcp.CallToolResult, out NotesOutput, err error) {
	ctx, sess, finish, err := s.begin(ctx, "plan_notes_list")
	if err != nil {
		return nil, NotesOutput{}, err
	}
	defer func() { finish(err) }()

	c, err := s.resolvePlan(ctx, sess, in.Plan)
	if err != nil {
		return nil, NotesOutput{}, err
	}
	return s.listPlanNotes(ctx, c.ID, c.Name, in.Kind)
}

func (s *Server) listPlanNotes(ctx context.Context, contextID int64, planName, kind string) (*mcp.CallToolResult, NotesOutput, error) {
	notes, err := s.store.ListContextNotes(ctx, contextID, kind)
	if err != nil {
		return nil, NotesOutput{}, err
	}
	out := NotesOutput{Plan: planName}
	for _, n := range notes {
		out.Notes = append(out.Notes, NoteView{
			Kind:      n.Kind,
			Text:      n.NoteMD,
			Actor:     n.Actor,
			CreatedAt: n.CreatedAt,
		})
	}
	return nil, out, nil
}
