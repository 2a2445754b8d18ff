package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notegate/api/internal/fault"
)

const invitationColumns = `id, note_id, email, role_id, sent_by, token_hash, expires_at, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.NoteID, &inv.Email, &inv.RoleID, &inv.SentBy, &inv.TokenHash, &inv.ExpiresAt, &inv.CreatedAt)
	return inv, err
}

// InsertInvitation fails with Conflict when an invitation for the same
// (note, email) pair or token already exists.
func (q *Queries) InsertInvitation(ctx context.Context, inv Invitation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.NoteID, inv.Email, inv.RoleID, inv.SentBy, inv.TokenHash, inv.ExpiresAt.UTC(), inv.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fault.Conflict("create invitation", "an invitation for this email is already pending")
	}
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (q *Queries) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	return q.getInvitation(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, invitationID)
}

// GetInvitationByTokenHash locks the row inside a postgres transaction so two
// concurrent redemptions serialize on it.
func (q *Queries) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	return q.getInvitation(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`+q.lockClause("UPDATE"), tokenHash)
}

func (q *Queries) GetInvitationForEmail(ctx context.Context, noteID, email string) (Invitation, error) {
	return q.getInvitation(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE note_id = $1 AND email = $2`, noteID, email)
}

func (q *Queries) getInvitation(ctx context.Context, query string, args ...any) (Invitation, error) {
	inv, err := scanInvitation(q.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Invitation{}, fault.NotFound("get invitation", "invitation not found")
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

func (q *Queries) DeleteInvitation(ctx context.Context, invitationID string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM invitations WHERE id = $1`, invitationID)
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	ok, err := affectedOne(result, "delete invitation")
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound("delete invitation", "invitation not found")
	}
	return nil
}

func (q *Queries) ListInvitations(ctx context.Context, noteID string) ([]Invitation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations WHERE note_id = $1 ORDER BY created_at, email
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

func (q *Queries) DeleteInvitationsForNote(ctx context.Context, noteID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM invitations WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete note invitations: %w", err)
	}
	return nil
}

func (q *Queries) DeleteExpiredInvitations(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, `DELETE FROM invitations WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired invitations: %w", err)
	}
	return result.RowsAffected()
}
