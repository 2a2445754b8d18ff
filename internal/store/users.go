package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notegate/api/internal/fault"
)

func (q *Queries) CreateUser(ctx context.Context, user User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fault.Conflict("create user", "email already registered")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (q *Queries) GetUserByID(ctx context.Context, userID string) (User, error) {
	return q.getUser(ctx, `SELECT id, email, display_name, password_hash, created_at FROM users WHERE id = $1`, userID)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return q.getUser(ctx, `SELECT id, email, display_name, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (q *Queries) getUser(ctx context.Context, query, arg string) (User, error) {
	var user User
	err := q.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fault.NotFound("get user", "user not found")
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (q *Queries) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := q.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	ok, err := affectedOne(result, "update user password")
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound("update password", "user not found")
	}
	return nil
}
