package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notegate/api/internal/fault"
)

const shareLinkColumns = `id, note_id, token_hash, created_by, scope, expires_at, created_at`

func scanShareLink(row interface{ Scan(...any) error }) (ShareLink, error) {
	var link ShareLink
	err := row.Scan(&link.ID, &link.NoteID, &link.TokenHash, &link.CreatedBy, &link.Scope, &link.ExpiresAt, &link.CreatedAt)
	return link, err
}

func (q *Queries) InsertShareLink(ctx context.Context, link ShareLink) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO share_links (`+shareLinkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, link.ID, link.NoteID, link.TokenHash, link.CreatedBy, link.Scope, link.ExpiresAt.UTC(), link.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fault.Conflict("create share link", "share link token collision")
	}
	if err != nil {
		return fmt.Errorf("insert share link: %w", err)
	}
	return nil
}

func (q *Queries) GetShareLink(ctx context.Context, linkID string) (ShareLink, error) {
	return q.getShareLink(ctx, `SELECT `+shareLinkColumns+` FROM share_links WHERE id = $1`, linkID)
}

func (q *Queries) GetShareLinkByTokenHash(ctx context.Context, tokenHash string) (ShareLink, error) {
	return q.getShareLink(ctx, `SELECT `+shareLinkColumns+` FROM share_links WHERE token_hash = $1`, tokenHash)
}

func (q *Queries) getShareLink(ctx context.Context, query, arg string) (ShareLink, error) {
	link, err := scanShareLink(q.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return ShareLink{}, fault.NotFound("get share link", "link not found or expired")
	}
	if err != nil {
		return ShareLink{}, fmt.Errorf("get share link: %w", err)
	}
	return link, nil
}

func (q *Queries) DeleteShareLink(ctx context.Context, linkID string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM share_links WHERE id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("delete share link: %w", err)
	}
	ok, err := affectedOne(result, "delete share link")
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound("delete share link", "share link not found")
	}
	return nil
}

func (q *Queries) ListShareLinks(ctx context.Context, noteID string) ([]ShareLink, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+shareLinkColumns+` FROM share_links WHERE note_id = $1 ORDER BY created_at, id
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	defer rows.Close()

	items := make([]ShareLink, 0)
	for rows.Next() {
		link, err := scanShareLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		items = append(items, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share links: %w", err)
	}
	return items, nil
}

func (q *Queries) DeleteShareLinksForNote(ctx context.Context, noteID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM share_links WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete note share links: %w", err)
	}
	return nil
}

func (q *Queries) DeleteExpiredShareLinks(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, `DELETE FROM share_links WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired share links: %w", err)
	}
	return result.RowsAffected()
}
