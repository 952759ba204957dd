package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Stores that predate typed notes carry goals and plans as "## Goal" /
// "## Plan" sections inside plain notes, and the migration that introduced
// kinds left "(migrated...)" placeholder rows behind. backfillTypedNotes
// splits those sections into goal/plan rows and drops the placeholders they
// replace; whatever remains of the original note stays a plain note. It runs
// on every Open and is a no-op once nothing matches.
func (s *Store) backfillTypedNotes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, context_id, note_md, created_at, actor FROM context_notes
		 WHERE kind = ? AND (note_md LIKE '%## Goal%' OR note_md LIKE '%## Plan%');`,
		NoteKindNote)
	if err != nil {
		return fmt.Errorf("scan notes for backfill: %w", err)
	}
	defer rows.Close()

	type pendingNote struct {
		id        int64
		contextID int64
		noteMD    string
		createdAt string
		actor     sql.NullString
	}
	var pending []pendingNote
	for rows.Next() {
		var n pendingNote
		if err := rows.Scan(&n.id, &n.contextID, &n.noteMD, &n.createdAt, &n.actor); err != nil {
			return err
		}
		pending = append(pending, n)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	split := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range pending {
			goal, plan, remainder := splitNoteSections(n.noteMD)
			if goal == "" && plan == "" {
				continue
			}
			retype := func(kind, text string) error {
				if text == "" {
					return nil
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO context_notes (context_id, note_md, created_at, actor, kind)
					 VALUES (?, ?, ?, ?, ?);`,
					n.contextID, text, n.createdAt, n.actor, kind); err != nil {
					return fmt.Errorf("backfill %s note: %w", kind, err)
				}
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM context_notes WHERE context_id = ? AND kind = ? AND note_md LIKE '(migrated%';`,
					n.contextID, kind); err != nil {
					return fmt.Errorf("drop %s placeholder: %w", kind, err)
				}
				return nil
			}
			if err := retype(NoteKindGoal, goal); err != nil {
				return err
			}
			if err := retype(NoteKindPlan, plan); err != nil {
				return err
			}
			if remainder != "" {
				if _, err := tx.ExecContext(ctx,
					`UPDATE context_notes SET note_md = ? WHERE id = ?;`,
					remainder, n.id); err != nil {
					return fmt.Errorf("rewrite split note: %w", err)
				}
			} else if _, err := tx.ExecContext(ctx,
				`DELETE FROM context_notes WHERE id = ?;`, n.id); err != nil {
				return fmt.Errorf("remove emptied note: %w", err)
			}
			split++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if split > 0 {
		s.logger.Info("typed note backfill", "notes_split", split)
	}
	return nil
}

// splitNoteSections pulls the "## Goal" and "## Plan" sections out of a note.
// A section runs from its header line to the next "## " header or the end of
// the note; everything else, other headers included, stays in the remainder.
func splitNoteSections(text string) (goal, plan, remainder string) {
	var goalLines, planLines, restLines []string
	target := &restLines
	for _, line := range strings.Split(text, "\n") {
		switch strings.TrimRight(line, " \t") {
		case "## Goal":
			target = &goalLines
			continue
		case "## Plan":
			target = &planLines
			continue
		default:
			if strings.HasPrefix(line, "## ") {
				target = &restLines
			}
		}
		*target = append(*target, line)
	}
	join := func(lines []string) string {
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return join(goalLines), join(planLines), join(restLines)
}
