package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notegate/api/internal/fault"
)

// MembershipRole implements rbac.MembershipLookup. Inside a postgres
// transaction the membership row is share-locked so a concurrent role change
// waits for the caller to commit.
func (q *Queries) MembershipRole(ctx context.Context, noteID, userID string) (string, bool, error) {
	var roleID string
	err := q.db.QueryRowContext(ctx,
		`SELECT role_id FROM note_memberships WHERE note_id = $1 AND user_id = $2`+q.lockClause("SHARE"),
		noteID, userID,
	).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get membership role: %w", err)
	}
	return roleID, true, nil
}

func (q *Queries) GetMembership(ctx context.Context, noteID, userID string) (Membership, error) {
	var m Membership
	err := q.db.QueryRowContext(ctx, `
		SELECT m.note_id, m.user_id, m.role_id, u.email, u.display_name, m.created_at, m.updated_at
		FROM note_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.note_id = $1 AND m.user_id = $2`+q.lockClause("UPDATE"),
		noteID, userID,
	).Scan(&m.NoteID, &m.UserID, &m.RoleID, &m.Email, &m.DisplayName, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, fault.NotFound("get membership", "membership not found")
	}
	if err != nil {
		return Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// InsertMembership fails with Conflict when the (note, user) pair exists.
func (q *Queries) InsertMembership(ctx context.Context, m Membership) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO note_memberships (note_id, user_id, role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.NoteID, m.UserID, m.RoleID, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return fault.Conflict("create membership", "user is already a member of this note")
	}
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (q *Queries) UpdateMembershipRole(ctx context.Context, noteID, userID, roleID string, at time.Time) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE note_memberships SET role_id = $1, updated_at = $2
		WHERE note_id = $3 AND user_id = $4
	`, roleID, at.UTC(), noteID, userID)
	if err != nil {
		return fmt.Errorf("update membership role: %w", err)
	}
	ok, err := affectedOne(result, "update membership role")
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound("change role", "membership not found")
	}
	return nil
}

func (q *Queries) DeleteMembership(ctx context.Context, noteID, userID string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM note_memberships WHERE note_id = $1 AND user_id = $2`, noteID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	ok, err := affectedOne(result, "delete membership")
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound("revoke membership", "membership not found")
	}
	return nil
}

func (q *Queries) DeleteMembershipsForNote(ctx context.Context, noteID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM note_memberships WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete note memberships: %w", err)
	}
	return nil
}

func (q *Queries) ListMemberships(ctx context.Context, noteID string) ([]Membership, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT m.note_id, m.user_id, m.role_id, u.email, u.display_name, m.created_at, m.updated_at
		FROM note_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.note_id = $1
		ORDER BY m.created_at, u.email
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.NoteID, &m.UserID, &m.RoleID, &m.Email, &m.DisplayName, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (q *Queries) CountMembershipsWithRole(ctx context.Context, noteID, roleID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM note_memberships WHERE note_id = $1 AND role_id = $2`, noteID, roleID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count memberships: %w", err)
	}
	return count, nil
}

// IsMemberByEmail reports whether a registered user with email already holds
// a membership on noteID.
func (q *Queries) IsMemberByEmail(ctx context.Context, noteID, email string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM note_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.note_id = $1 AND u.email = $2
	`, noteID, email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check member email: %w", err)
	}
	return count > 0, nil
}
