// Package session provides storage backends for refresh sessions.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown, expired and revoked refresh tokens.
var ErrNotFound = errors.New("session not found or expired")

// Session is what a refresh token resolves to.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps refresh sessions keyed by the SHA-256 hash of the token.
type Store interface {
	Save(ctx context.Context, tokenHash string, sess Session, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (Session, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
	Close() error
}

const defaultTTL = 30 * 24 * time.Hour

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return ttl
}
