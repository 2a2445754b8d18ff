package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notegate/api/internal/fault"
)

const versionColumns = `id, note_id, version_number, title, content, changed_by, created_at`

func scanVersion(row interface{ Scan(...any) error }) (NoteVersion, error) {
	var v NoteVersion
	err := row.Scan(&v.ID, &v.NoteID, &v.VersionNumber, &v.Title, &v.Content, &v.ChangedBy, &v.CreatedAt)
	return v, err
}

// InsertNoteVersion appends a snapshot. A second snapshot for the same
// (note, version) is a Conflict.
func (q *Queries) InsertNoteVersion(ctx context.Context, v NoteVersion) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO note_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.NoteID, v.VersionNumber, v.Title, v.Content, v.ChangedBy, v.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fault.Conflict("record version", "version already recorded")
	}
	if err != nil {
		return fmt.Errorf("insert note version: %w", err)
	}
	return nil
}

func (q *Queries) GetNoteVersion(ctx context.Context, noteID string, versionNumber int) (NoteVersion, error) {
	v, err := scanVersion(q.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM note_versions WHERE note_id = $1 AND version_number = $2`,
		noteID, versionNumber,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return NoteVersion{}, fault.NotFound("get version", "version not found")
	}
	if err != nil {
		return NoteVersion{}, fmt.Errorf("get note version: %w", err)
	}
	return v, nil
}

// ListNoteVersions returns snapshots newest first.
func (q *Queries) ListNoteVersions(ctx context.Context, noteID string) ([]NoteVersion, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM note_versions WHERE note_id = $1 ORDER BY version_number DESC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list note versions: %w", err)
	}
	defer rows.Close()

	items := make([]NoteVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note versions: %w", err)
	}
	return items, nil
}

func (q *Queries) DeleteNoteVersions(ctx context.Context, noteID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM note_versions WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete note versions: %w", err)
	}
	return nil
}
