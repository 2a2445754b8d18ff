package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notegate/api/internal/fault"
)

func (q *Queries) InsertComment(ctx context.Context, c Comment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO comments (id, note_id, author_id, author_label, content, parent_comment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.NoteID, nullString(c.AuthorID), c.AuthorLabel, c.Content, nullString(c.ParentCommentID), c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (q *Queries) GetComment(ctx context.Context, commentID string) (Comment, error) {
	c, err := scanComment(q.db.QueryRowContext(ctx, `
		SELECT id, note_id, author_id, author_label, content, parent_comment_id, created_at
		FROM comments WHERE id = $1
	`, commentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, fault.NotFound("get comment", "comment not found")
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

func (q *Queries) ListComments(ctx context.Context, noteID string) ([]Comment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, note_id, author_id, author_label, content, parent_comment_id, created_at
		FROM comments WHERE note_id = $1
		ORDER BY created_at, id
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (q *Queries) DeleteCommentsForNote(ctx context.Context, noteID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM comments WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete note comments: %w", err)
	}
	return nil
}

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var (
		c        Comment
		authorID sql.NullString
		parentID sql.NullString
	)
	if err := row.Scan(&c.ID, &c.NoteID, &authorID, &c.AuthorLabel, &c.Content, &parentID, &c.CreatedAt); err != nil {
		return Comment{}, err
	}
	c.AuthorID = authorID.String
	c.ParentCommentID = parentID.String
	return c, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
