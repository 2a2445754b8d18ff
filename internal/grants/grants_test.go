package grants_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"notegate/api/internal/auth"
	"notegate/api/internal/fault"
	"notegate/api/internal/grants"
	"notegate/api/internal/ledger"
	"notegate/api/internal/membership"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
	"notegate/api/internal/store/storetest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notifierFunc func(ctx context.Context, n grants.InvitationNotice) error

func (f notifierFunc) NotifyInvitation(ctx context.Context, n grants.InvitationNotice) error {
	return f(ctx, n)
}

type fixture struct {
	store  *store.SQLStore
	clock  *clock
	grants *grants.Service
	ledger *ledger.Coordinator
}

func newFixture(t *testing.T, opts grants.Options) fixture {
	t.Helper()
	s := storetest.New(t)
	for _, id := range []string{"x", "y", "z"} {
		storetest.SeedUser(t, s, id, id+"@example.com")
	}
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	authz := rbac.NewEvaluator(rbac.DefaultRegistry())
	return fixture{
		store:  s,
		clock:  clk,
		grants: grants.NewService(s, authz, auth.NewInviteSigner("invite-secret", clk.Now), opts),
		ledger: ledger.New(s, authz, ledger.Options{Now: clk.Now}),
	}
}

func (f fixture) note(t *testing.T, owner string) store.Note {
	t.Helper()
	note, err := f.ledger.Create(context.Background(), owner, "Plan", "hello")
	require.NoError(t, err)
	return note
}

func TestInvitationScenario(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")

	issued, err := f.grants.IssueInvitation(ctx, "x", note.ID, "Y@Example.com", "Editor")
	require.NoError(t, err)
	assert.Equal(t, "y@example.com", issued.Email)
	assert.Equal(t, auth.HashToken(issued.Token), issued.TokenHash)

	_, found, err := f.store.MembershipRole(ctx, note.ID, "y")
	require.NoError(t, err)
	assert.False(t, found, "no membership before redemption")

	m, err := f.grants.RedeemInvitation(ctx, issued.Token, "y")
	require.NoError(t, err)
	assert.Equal(t, "editor", m.RoleID)

	pending, err := f.grants.ListPendingInvitations(ctx, "x", note.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.grants.RedeemInvitation(ctx, issued.Token, "y")
	assert.ErrorIs(t, err, fault.ErrInvalidToken, "second redemption")

	err = f.ledger.Delete(ctx, "y", note.ID)
	assert.ErrorIs(t, err, fault.ErrForbidden, "editor cannot delete")
	require.NoError(t, f.ledger.Delete(ctx, "x", note.ID))
}

func TestIssueInvitationRules(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")
	_, err := f.grants.IssueInvitation(ctx, "x", note.ID, "z@example.com", "viewer")
	require.NoError(t, err)

	cases := []struct {
		name  string
		actor string
		email string
		role  string
		want  error
	}{
		{name: "unknown role", actor: "x", email: "new@example.com", role: "Admin", want: fault.ErrNotFound},
		{name: "owner under single owner", actor: "x", email: "new@example.com", role: "Owner", want: fault.ErrInvalidInput},
		{name: "bad email", actor: "x", email: "not-an-email", role: "viewer", want: fault.ErrInvalidInput},
		{name: "already member", actor: "x", email: "x@example.com", role: "viewer", want: fault.ErrConflict},
		{name: "pending invitation", actor: "x", email: "Z@example.com", role: "editor", want: fault.ErrConflict},
		{name: "non member actor", actor: "y", email: "new@example.com", role: "viewer", want: fault.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.grants.IssueInvitation(ctx, tc.actor, note.ID, tc.email, tc.role)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExpiredInvitationCanBeReissued(t *testing.T) {
	f := newFixture(t, grants.Options{InviteTTL: time.Hour})
	ctx := context.Background()
	note := f.note(t, "x")

	first, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "viewer")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	_, err = f.grants.RedeemInvitation(ctx, first.Token, "y")
	assert.ErrorIs(t, err, fault.ErrInvalidToken, "expired before sweep")

	second, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "commenter")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	m, err := f.grants.RedeemInvitation(ctx, second.Token, "y")
	require.NoError(t, err)
	assert.Equal(t, "commenter", m.RoleID)
}

func TestRevokedInvitationIsInvalid(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")

	issued, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "viewer")
	require.NoError(t, err)
	assert.ErrorIs(t, f.grants.RevokeInvitation(ctx, "y", issued.ID), fault.ErrForbidden)
	require.NoError(t, f.grants.RevokeInvitation(ctx, "x", issued.ID))
	assert.ErrorIs(t, f.grants.RevokeInvitation(ctx, "x", issued.ID), fault.ErrNotFound)

	_, err = f.grants.RedeemInvitation(ctx, issued.Token, "y")
	assert.ErrorIs(t, err, fault.ErrInvalidToken)
}

func TestRedeemRejectsTamperedAndForeignTokens(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")
	issued, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "viewer")
	require.NoError(t, err)

	foreign := auth.NewInviteSigner("other-secret", f.clock.Now)
	forged, err := foreign.Sign(auth.InviteClaims{Email: "y@example.com", NoteID: note.ID, RoleID: "owner", Exp: f.clock.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"tampered": issued.Token[:len(issued.Token)-2] + "xx",
		"foreign":  forged,
		"garbage":  "not.a.token",
		"empty":    "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.grants.RedeemInvitation(ctx, token, "y")
			assert.ErrorIs(t, err, fault.ErrInvalidToken)
		})
	}
}

func TestRedeemByExistingMemberKeepsInvitation(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")
	issued, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "viewer")
	require.NoError(t, err)

	_, err = f.grants.RedeemInvitation(ctx, issued.Token, "x")
	assert.ErrorIs(t, err, fault.ErrConflict)

	pending, err := f.grants.ListPendingInvitations(ctx, "x", note.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "failed redemption must roll back")
}

func TestRedeemEmailMatchPolicy(t *testing.T) {
	ctx := context.Background()

	lenient := newFixture(t, grants.Options{})
	note := lenient.note(t, "x")
	issued, err := lenient.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "viewer")
	require.NoError(t, err)
	_, err = lenient.grants.RedeemInvitation(ctx, issued.Token, "z")
	assert.NoError(t, err, "email match not enforced")

	strict := newFixture(t, grants.Options{RequireEmailMatch: true})
	note = strict.note(t, "x")
	issued, err = strict.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "viewer")
	require.NoError(t, err)
	_, err = strict.grants.RedeemInvitation(ctx, issued.Token, "z")
	assert.ErrorIs(t, err, fault.ErrForbidden)
	_, err = strict.grants.RedeemInvitation(ctx, issued.Token, "y")
	assert.NoError(t, err)
}

func TestConcurrentRedeemOneWinner(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")
	issued, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "editor")
	require.NoError(t, err)

	const attempts = 5
	results := make([]error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, results[i] = f.grants.RedeemInvitation(ctx, issued.Token, "y")
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
		assert.True(t, errors.Is(err, fault.ErrInvalidToken) || errors.Is(err, fault.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestNotifierFailureDoesNotUndoInvitation(t *testing.T) {
	delivered := make(chan grants.InvitationNotice, 1)
	f := newFixture(t, grants.Options{Notifier: notifierFunc(func(_ context.Context, n grants.InvitationNotice) error {
		delivered <- n
		return errors.New("smtp down")
	})})
	ctx := context.Background()
	note := f.note(t, "x")

	issued, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "editor")
	require.NoError(t, err)

	select {
	case n := <-delivered:
		assert.Equal(t, issued.Token, n.Token)
		assert.Equal(t, "Plan", n.NoteTitle)
		assert.Equal(t, "Editor", n.RoleName)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}

	_, err = f.grants.RedeemInvitation(ctx, issued.Token, "y")
	assert.NoError(t, err)
}

func TestMultiOwnerInvitation(t *testing.T) {
	f := newFixture(t, grants.Options{OwnershipPolicy: membership.PolicyMultiOwner})
	ctx := context.Background()
	note := f.note(t, "x")

	issued, err := f.grants.IssueInvitation(ctx, "x", note.ID, "y@example.com", "owner")
	require.NoError(t, err)
	_, err = f.grants.RedeemInvitation(ctx, issued.Token, "y")
	require.NoError(t, err)
	role, _, err := f.store.MembershipRole(ctx, note.ID, "y")
	require.NoError(t, err)
	assert.Equal(t, "owner", role)
}

func TestShareLinkScenario(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")

	link, err := f.grants.IssueShareLink(ctx, "x", note.ID, "read-only", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.Token, "sl_"))
	assert.Equal(t, f.clock.Now().Add(grants.DefaultShareLinkTTL), link.ExpiresAt)

	shared, err := f.grants.ResolveShareLink(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, "hello", shared.Note.Content)
	assert.Equal(t, grants.ScopeReadOnly, shared.Scope)
	assert.False(t, shared.Scope.Permits(rbac.PermEditNoteContent))
	assert.False(t, shared.Scope.Permits(rbac.PermAddComments))

	members, err := f.store.ListMemberships(ctx, note.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1, "resolving a link creates no membership")

	f.clock.Advance(grants.DefaultShareLinkTTL)
	_, err = f.grants.ResolveShareLink(ctx, link.Token)
	assert.ErrorIs(t, err, fault.ErrNotFound, "expired link before sweep")
}

func TestShareLinkManagement(t *testing.T) {
	f := newFixture(t, grants.Options{})
	ctx := context.Background()
	note := f.note(t, "x")

	_, err := f.grants.IssueShareLink(ctx, "x", note.ID, "edit", 0)
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
	_, err = f.grants.IssueShareLink(ctx, "y", note.ID, "read-only", 0)
	assert.ErrorIs(t, err, fault.ErrForbidden)
	_, err = f.grants.IssueShareLink(ctx, "x", note.ID, "read-only", -time.Hour)
	assert.ErrorIs(t, err, fault.ErrInvalidInput)

	short, err := f.grants.IssueShareLink(ctx, "x", note.ID, "comment-only", time.Hour)
	require.NoError(t, err)
	long, err := f.grants.IssueShareLink(ctx, "x", note.ID, "read-only", 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, string(grants.ScopeCommentOnly), short.Scope)

	f.clock.Advance(2 * time.Hour)
	live, err := f.grants.ListShareLinks(ctx, "x", note.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, long.ID, live[0].ID)

	require.NoError(t, f.grants.RevokeShareLink(ctx, "x", long.ID))
	_, err = f.grants.ResolveShareLink(ctx, long.Token)
	assert.ErrorIs(t, err, fault.ErrNotFound)
	_, err = f.grants.ResolveShareLink(ctx, "sl_unknown")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestScopePermits(t *testing.T) {
	for _, perm := range []rbac.Permission{rbac.PermEditNoteContent, rbac.PermDeleteNote, rbac.PermManageContributors} {
		assert.False(t, grants.ScopeCommentOnly.Permits(perm), perm)
		assert.False(t, grants.ScopeReadOnly.Permits(perm), perm)
	}
	assert.True(t, grants.ScopeCommentOnly.Permits(rbac.PermAddComments))
}
