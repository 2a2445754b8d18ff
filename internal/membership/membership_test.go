package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"notegate/api/internal/fault"
	"notegate/api/internal/membership"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
	"notegate/api/internal/store/storetest"
)

const noteID = "note_1"

func setup(t *testing.T, policy membership.Policy) (*membership.Service, *store.SQLStore) {
	t.Helper()
	s := storetest.New(t)
	for _, id := range []string{"owner", "manager", "editor", "viewer"} {
		storetest.SeedUser(t, s, id, id+"@example.com")
	}
	storetest.SeedNote(t, s, noteID, "owner")
	for _, id := range []rbac.RoleID{rbac.RoleManager, rbac.RoleEditor, rbac.RoleViewer} {
		require.NoError(t, membership.Create(context.Background(), s.Queries, rbac.DefaultRegistry(), noteID, string(id), id, time.Now().UTC()))
	}
	return membership.NewService(s, rbac.NewEvaluator(rbac.DefaultRegistry()), policy, nil), s
}

func roleOf(t *testing.T, s *store.SQLStore, userID string) string {
	t.Helper()
	role, found, err := s.MembershipRole(context.Background(), noteID, userID)
	require.NoError(t, err)
	require.True(t, found, "no membership for %s", userID)
	return role
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]membership.Policy{
		"":             membership.PolicySingleOwner,
		"single-owner": membership.PolicySingleOwner,
		"Multi-Owner":  membership.PolicyMultiOwner,
	}
	for in, want := range cases {
		got, err := membership.ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := membership.ParsePolicy("anarchy")
	assert.Error(t, err)
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	_, s := setup(t, membership.PolicySingleOwner)
	err := membership.Create(context.Background(), s.Queries, rbac.DefaultRegistry(), noteID, "viewer", rbac.RoleEditor, time.Now())
	assert.ErrorIs(t, err, fault.ErrConflict)
}

func TestCreateUnknownRoleIsIntegrityFault(t *testing.T) {
	_, s := setup(t, membership.PolicySingleOwner)
	storetest.SeedUser(t, s, "late", "late@example.com")
	err := membership.Create(context.Background(), s.Queries, rbac.DefaultRegistry(), noteID, "late", "admin", time.Now())
	assert.ErrorIs(t, err, fault.ErrIntegrity)
}

func TestConcurrentCreateOneWinner(t *testing.T) {
	_, s := setup(t, membership.PolicySingleOwner)
	storetest.SeedUser(t, s, "racer", "racer@example.com")

	const attempts = 6
	results := make([]error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			results[i] = s.InTx(context.Background(), func(q *store.Queries) error {
				return membership.Create(context.Background(), q, rbac.DefaultRegistry(), noteID, "racer", rbac.RoleViewer, time.Now())
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
		assert.ErrorIs(t, err, fault.ErrConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestChangeRoleSingleOwner(t *testing.T) {
	svc, s := setup(t, membership.PolicySingleOwner)
	ctx := context.Background()

	member, err := svc.ChangeRole(ctx, "owner", noteID, "viewer", "Editor")
	require.NoError(t, err)
	assert.Equal(t, "Editor", member.RoleName)
	assert.Equal(t, "editor", roleOf(t, s, "viewer"))

	_, err = svc.ChangeRole(ctx, "manager", noteID, "editor", "viewer")
	assert.ErrorIs(t, err, fault.ErrForbidden, "managers cannot change roles under single-owner")

	_, err = svc.ChangeRole(ctx, "owner", noteID, "nobody", "viewer")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = svc.ChangeRole(ctx, "owner", noteID, "viewer", "Admin")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = svc.ChangeRole(ctx, "owner", noteID, "owner", "viewer")
	assert.ErrorIs(t, err, fault.ErrConflict, "sole owner cannot demote themselves")
}

func TestChangeRoleToOwnerTransfersUnderSingleOwner(t *testing.T) {
	svc, s := setup(t, membership.PolicySingleOwner)

	member, err := svc.ChangeRole(context.Background(), "owner", noteID, "editor", "owner")
	require.NoError(t, err)
	assert.Equal(t, "owner", member.RoleID)
	assert.Equal(t, "owner", roleOf(t, s, "editor"))
	assert.Equal(t, "manager", roleOf(t, s, "owner"))

	owners, err := s.CountMembershipsWithRole(context.Background(), noteID, "owner")
	require.NoError(t, err)
	assert.Equal(t, 1, owners)
}

func TestChangeRoleMultiOwner(t *testing.T) {
	svc, s := setup(t, membership.PolicyMultiOwner)
	ctx := context.Background()

	_, err := svc.ChangeRole(ctx, "manager", noteID, "viewer", "commenter")
	require.NoError(t, err)
	assert.Equal(t, "commenter", roleOf(t, s, "viewer"))

	_, err = svc.ChangeRole(ctx, "manager", noteID, "editor", "owner")
	assert.ErrorIs(t, err, fault.ErrForbidden, "only owners grant owner")

	_, err = svc.ChangeRole(ctx, "owner", noteID, "editor", "owner")
	require.NoError(t, err)
	assert.Equal(t, "owner", roleOf(t, s, "owner"), "multi-owner grant does not demote the actor")

	_, err = svc.ChangeRole(ctx, "manager", noteID, "editor", "viewer")
	assert.ErrorIs(t, err, fault.ErrForbidden, "only owners remove owner")

	_, err = svc.ChangeRole(ctx, "owner", noteID, "editor", "viewer")
	require.NoError(t, err)
	_, err = svc.ChangeRole(ctx, "owner", noteID, "owner", "viewer")
	assert.ErrorIs(t, err, fault.ErrConflict, "last owner stays")
}

func TestRevoke(t *testing.T) {
	svc, s := setup(t, membership.PolicySingleOwner)
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  string
		target string
		want   error
	}{
		{name: "self revoke", actor: "manager", target: "manager", want: fault.ErrForbidden},
		{name: "editor lacks manage", actor: "editor", target: "viewer", want: fault.ErrForbidden},
		{name: "manager cannot revoke owner", actor: "manager", target: "owner", want: fault.ErrForbidden},
		{name: "missing membership", actor: "owner", target: "stranger", want: fault.ErrNotFound},
		{name: "manager revokes viewer", actor: "manager", target: "viewer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Revoke(ctx, tc.actor, noteID, tc.target)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			_, found, err := s.MembershipRole(ctx, noteID, tc.target)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestTransferOwnership(t *testing.T) {
	svc, s := setup(t, membership.PolicySingleOwner)
	ctx := context.Background()

	_, err := svc.TransferOwnership(ctx, "manager", noteID, "editor")
	assert.ErrorIs(t, err, fault.ErrForbidden)
	_, err = svc.TransferOwnership(ctx, "owner", noteID, "owner")
	assert.ErrorIs(t, err, fault.ErrConflict)
	_, err = svc.TransferOwnership(ctx, "stranger", noteID, "stranger")
	assert.ErrorIs(t, err, fault.ErrForbidden, "self-transfer by a non-member is denied like any other call")
	_, err = svc.TransferOwnership(ctx, "manager", noteID, "manager")
	assert.ErrorIs(t, err, fault.ErrForbidden)
	_, err = svc.TransferOwnership(ctx, "owner", noteID, "ghost")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = svc.TransferOwnership(ctx, "owner", noteID, "viewer")
	require.NoError(t, err)
	assert.Equal(t, "owner", roleOf(t, s, "viewer"))
	assert.Equal(t, "manager", roleOf(t, s, "owner"))
}

func TestListMembers(t *testing.T) {
	svc, _ := setup(t, membership.PolicySingleOwner)
	ctx := context.Background()

	members, err := svc.List(ctx, "viewer", noteID)
	require.NoError(t, err)
	require.Len(t, members, 4)
	names := map[string]string{}
	for _, m := range members {
		names[m.UserID] = m.RoleName
	}
	assert.Equal(t, "Owner", names["owner"])
	assert.Equal(t, "Viewer", names["viewer"])

	_, err = svc.List(ctx, "stranger", noteID)
	assert.ErrorIs(t, err, fault.ErrForbidden)
}
