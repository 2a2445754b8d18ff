package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notegate/api/internal/fault"
)

const noteColumns = `n.id, n.title, n.content, n.version_number, n.created_by, n.created_at, n.updated_at`

func scanNote(row interface{ Scan(...any) error }, note *Note, extra ...any) error {
	dest := []any{&note.ID, &note.Title, &note.Content, &note.VersionNumber, &note.CreatedBy, &note.CreatedAt, &note.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

func (q *Queries) InsertNote(ctx context.Context, note Note) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, version_number, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, note.ID, note.Title, note.Content, note.VersionNumber, note.CreatedBy, note.CreatedAt.UTC(), note.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return fault.Conflict("create note", "note already exists")
	}
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (q *Queries) GetNote(ctx context.Context, noteID string) (Note, error) {
	return q.getNote(ctx, noteID, "")
}

// LockNote reads a note and, inside a postgres transaction, holds its row
// lock until commit.
func (q *Queries) LockNote(ctx context.Context, noteID string) (Note, error) {
	return q.getNote(ctx, noteID, q.lockClause("UPDATE"))
}

func (q *Queries) getNote(ctx context.Context, noteID, lock string) (Note, error) {
	var note Note
	err := scanNote(q.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.id = $1`+lock, noteID), &note)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, fault.NotFound("get note", "note not found")
	}
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

// UpdateNoteContent writes new title/content and advances the version by one,
// but only if the stored version still equals fromVersion.
func (q *Queries) UpdateNoteContent(ctx context.Context, noteID, title, content string, fromVersion int, at time.Time) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE notes
		SET title = $1, content = $2, version_number = version_number + 1, updated_at = $3
		WHERE id = $4 AND version_number = $5
	`, title, content, at.UTC(), noteID, fromVersion)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	ok, err := affectedOne(result, "update note")
	if err != nil {
		return err
	}
	if !ok {
		return fault.Conflict("update note", "note was modified concurrently")
	}
	return nil
}

func (q *Queries) DeleteNote(ctx context.Context, noteID string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	ok, err := affectedOne(result, "delete note")
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound("delete note", "note not found")
	}
	return nil
}

// ListVisibleNotes returns every note the user holds a membership on, most
// recently updated first.
func (q *Queries) ListVisibleNotes(ctx context.Context, userID string) ([]VisibleNote, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+noteColumns+`, m.role_id
		FROM notes n
		JOIN note_memberships m ON m.note_id = n.id
		WHERE m.user_id = $1
		ORDER BY n.updated_at DESC, n.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list visible notes: %w", err)
	}
	defer rows.Close()

	items := make([]VisibleNote, 0)
	for rows.Next() {
		var item VisibleNote
		if err := scanNote(rows, &item.Note, &item.RoleID); err != nil {
			return nil, fmt.Errorf("scan visible note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visible notes: %w", err)
	}
	return items, nil
}
