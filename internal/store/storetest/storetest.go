// Package storetest opens migrated in-memory SQLite stores for tests.
package storetest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"notegate/api/internal/store"
)

// New returns a fresh, fully migrated store that is closed when t ends.
func New(t testing.TB) *store.SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := store.ApplyMigrations(context.Background(), db, store.Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store.NewSQLStore(db, store.DialectSQLite)
}

// SeedUser inserts a user with the given id and email.
func SeedUser(t testing.TB, s *store.SQLStore, id, email string) store.User {
	t.Helper()
	user := store.User{ID: id, Email: email, DisplayName: id, CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return user
}

// SeedNote inserts a note at version 1 and an owner membership for ownerID.
func SeedNote(t testing.TB, s *store.SQLStore, noteID, ownerID string) store.Note {
	t.Helper()
	now := time.Now().UTC()
	note := store.Note{ID: noteID, Title: "Untitled Note", VersionNumber: 1, CreatedBy: ownerID, CreatedAt: now, UpdatedAt: now}
	ctx := context.Background()
	if err := s.InsertNote(ctx, note); err != nil {
		t.Fatalf("seed note %s: %v", noteID, err)
	}
	if err := s.InsertMembership(ctx, store.Membership{NoteID: noteID, UserID: ownerID, RoleID: "owner", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed owner membership: %v", err)
	}
	return note
}
