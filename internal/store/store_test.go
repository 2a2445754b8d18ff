package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"notegate/api/internal/fault"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
	"notegate/api/internal/store/storetest"
)

func TestMigrationsSeedRoleRegistry(t *testing.T) {
	s := storetest.New(t)
	specs, err := s.ListRoleSpecs(context.Background())
	require.NoError(t, err)

	reg, err := rbac.NewRegistry(specs)
	require.NoError(t, err)

	want := rbac.DefaultRegistry()
	for _, role := range want.Roles() {
		got, ok := reg.Role(role.ID)
		require.True(t, ok, "role %s missing", role.ID)
		assert.Equal(t, role.Name, got.Name)
		assert.Equal(t, role.Permissions(), got.Permissions())
	}
}

func TestRollbackMigrationsAndReapply(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	require.NoError(t, store.RollbackMigrations(ctx, s.DB(), store.Migrations()))
	require.NoError(t, store.ApplyMigrations(ctx, s.DB(), store.Migrations()))
	specs, err := s.ListRoleSpecs(ctx)
	require.NoError(t, err)
	assert.Len(t, specs, 5)
}

func TestConcurrentMembershipCreateHasOneWinner(t *testing.T) {
	s := storetest.New(t)
	storetest.SeedUser(t, s, "owner", "owner@example.com")
	storetest.SeedUser(t, s, "guest", "guest@example.com")
	storetest.SeedNote(t, s, "note_1", "owner")

	const attempts = 8
	results := make([]error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			now := time.Now().UTC()
			results[i] = s.InsertMembership(context.Background(), store.Membership{
				NoteID: "note_1", UserID: "guest", RoleID: "viewer", CreatedAt: now, UpdatedAt: now,
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, fault.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestUpdateNoteContentChecksVersion(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, "owner", "owner@example.com")
	storetest.SeedNote(t, s, "note_1", "owner")

	require.NoError(t, s.UpdateNoteContent(ctx, "note_1", "T", "A", 1, time.Now()))
	err := s.UpdateNoteContent(ctx, "note_1", "T", "B", 1, time.Now())
	assert.True(t, errors.Is(err, fault.ErrConflict), "stale version should conflict, got %v", err)

	note, err := s.GetNote(ctx, "note_1")
	require.NoError(t, err)
	assert.Equal(t, 2, note.VersionNumber)
	assert.Equal(t, "A", note.Content)
}

func TestNoteVersionUniquePerNote(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, "owner", "owner@example.com")
	storetest.SeedNote(t, s, "note_1", "owner")

	v := store.NoteVersion{ID: "v1", NoteID: "note_1", VersionNumber: 1, Title: "t", ChangedBy: "owner", CreatedAt: time.Now()}
	require.NoError(t, s.InsertNoteVersion(ctx, v))
	v.ID = "v2"
	err := s.InsertNoteVersion(ctx, v)
	assert.True(t, errors.Is(err, fault.ErrConflict), "got %v", err)
}

func TestMissingRowsAreNotFound(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := s.GetNote(ctx, "missing")
	assert.True(t, errors.Is(err, fault.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteMembership(ctx, "n", "u"), fault.ErrNotFound))
	assert.True(t, errors.Is(s.UpdateMembershipRole(ctx, "n", "u", "viewer", time.Now()), fault.ErrNotFound))
	_, err = s.GetInvitationByTokenHash(ctx, "nope")
	assert.True(t, errors.Is(err, fault.ErrNotFound))
	_, err = s.GetShareLinkByTokenHash(ctx, "nope")
	assert.True(t, errors.Is(err, fault.ErrNotFound))

	_, found, err := s.MembershipRole(ctx, "n", "u")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvitationUniquePerNoteAndEmail(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, "owner", "owner@example.com")
	storetest.SeedNote(t, s, "note_1", "owner")

	now := time.Now().UTC()
	inv := store.Invitation{ID: "inv_1", NoteID: "note_1", Email: "y@example.com", RoleID: "editor",
		SentBy: "owner", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, s.InsertInvitation(ctx, inv))

	inv.ID, inv.TokenHash = "inv_2", "h2"
	assert.True(t, errors.Is(s.InsertInvitation(ctx, inv), fault.ErrConflict))
}

func TestDeleteExpiredGrants(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, "owner", "owner@example.com")
	storetest.SeedNote(t, s, "note_1", "owner")

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertInvitation(ctx, store.Invitation{ID: "old", NoteID: "note_1", Email: "a@x.io", RoleID: "viewer",
		SentBy: "owner", TokenHash: "h-old", ExpiresAt: now.Add(-2 * time.Hour), CreatedAt: now.Add(-26 * time.Hour)}))
	require.NoError(t, s.InsertInvitation(ctx, store.Invitation{ID: "new", NoteID: "note_1", Email: "b@x.io", RoleID: "viewer",
		SentBy: "owner", TokenHash: "h-new", ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now}))
	require.NoError(t, s.InsertShareLink(ctx, store.ShareLink{ID: "sl_old", NoteID: "note_1", TokenHash: "s-old", CreatedBy: "owner",
		Scope: "read-only", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-48 * time.Hour)}))

	removed, err := s.DeleteExpiredInvitations(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	removed, err = s.DeleteExpiredShareLinks(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	remaining, err := s.ListInvitations(ctx, "note_1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].ID)
}

func TestListVisibleNotesJoinsMembership(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, "owner", "owner@example.com")
	storetest.SeedUser(t, s, "other", "other@example.com")
	storetest.SeedNote(t, s, "note_1", "owner")
	storetest.SeedNote(t, s, "note_2", "other")

	notes, err := s.ListVisibleNotes(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "note_1", notes[0].ID)
	assert.Equal(t, "owner", notes[0].RoleID)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, "owner", "owner@example.com")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q *store.Queries) error {
		now := time.Now()
		if err := q.InsertNote(ctx, store.Note{ID: "note_tx", Title: "x", VersionNumber: 1, CreatedBy: "owner", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetNote(ctx, "note_tx")
	assert.True(t, errors.Is(err, fault.ErrNotFound), "note should have been rolled back, got %v", err)
}

func TestCommentsRoundTripNullableColumns(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, "owner", "owner@example.com")
	storetest.SeedNote(t, s, "note_1", "owner")

	now := time.Now().UTC()
	require.NoError(t, s.InsertComment(ctx, store.Comment{ID: "c1", NoteID: "note_1", AuthorID: "owner", AuthorLabel: "owner", Content: "hi", CreatedAt: now}))
	require.NoError(t, s.InsertComment(ctx, store.Comment{ID: "c2", NoteID: "note_1", AuthorLabel: "guest", Content: "reply", ParentCommentID: "c1", CreatedAt: now.Add(time.Second)}))

	comments, err := s.ListComments(ctx, "note_1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "owner", comments[0].AuthorID)
	assert.Equal(t, "", comments[1].AuthorID)
	assert.Equal(t, "c1", comments[1].ParentCommentID)
}
