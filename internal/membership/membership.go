// Package membership applies the ownership policy to note memberships: role
// changes, revocation and ownership transfer. Rows live in the store; this
// package decides who may touch them.
package membership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notegate/api/internal/fault"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
)

type Policy string

const (
	// PolicySingleOwner keeps exactly one Owner per note. Granting Owner to
	// someone else is a transfer that demotes the current Owner.
	PolicySingleOwner Policy = "single-owner"
	// PolicyMultiOwner allows several Owners. Only Owners grant or remove
	// the Owner role, and the last Owner cannot be demoted.
	PolicyMultiOwner Policy = "multi-owner"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicySingleOwner, "":
		return PolicySingleOwner, nil
	case PolicyMultiOwner:
		return PolicyMultiOwner, nil
	}
	return "", fmt.Errorf("unknown ownership policy %q", value)
}

// Demoted owners land on this role after a single-owner transfer.
const demotedRole = rbac.RoleManager

type Store interface {
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

type Service struct {
	store  Store
	authz  *rbac.Evaluator
	policy Policy
	now    func() time.Time
}

func NewService(s Store, authz *rbac.Evaluator, policy Policy, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if policy == "" {
		policy = PolicySingleOwner
	}
	return &Service{store: s, authz: authz, policy: policy, now: now}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Member is a membership row with its role resolved for display.
type Member struct {
	store.Membership
	RoleName string
}

// Create inserts a membership inside the caller's transaction. A second
// membership for the same (note, user) fails with Conflict.
func Create(ctx context.Context, q *store.Queries, registry *rbac.Registry, noteID, userID string, roleID rbac.RoleID, at time.Time) error {
	if _, ok := registry.Role(roleID); !ok {
		return fault.Integrity("create membership", fmt.Sprintf("role %q is not registered", roleID))
	}
	return q.InsertMembership(ctx, store.Membership{
		NoteID:    noteID,
		UserID:    userID,
		RoleID:    string(roleID),
		CreatedAt: at,
		UpdatedAt: at,
	})
}

func (s *Service) List(ctx context.Context, actorID, noteID string) ([]Member, error) {
	var members []Member
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermReadNote, "list members"); err != nil {
			return err
		}
		rows, err := q.ListMemberships(ctx, noteID)
		if err != nil {
			return err
		}
		members = make([]Member, 0, len(rows))
		for _, row := range rows {
			members = append(members, s.describe(row))
		}
		return nil
	})
	if err != nil {
		return nil, fault.Aborted("list members", err)
	}
	return members, nil
}

// ChangeRole sets userID's role on noteID to the role named roleName.
func (s *Service) ChangeRole(ctx context.Context, actorID, noteID, userID, roleName string) (Member, error) {
	role, ok := s.authz.Registry().RoleByName(roleName)
	if !ok {
		return Member{}, fault.NotFound("change role", "role not found")
	}
	if s.policy == PolicySingleOwner && role.ID == rbac.RoleOwner {
		return s.TransferOwnership(ctx, actorID, noteID, userID)
	}

	var out Member
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		actor, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermManageContributors, "change role")
		if err != nil {
			return err
		}
		if s.policy == PolicySingleOwner && actor.Role != rbac.RoleOwner {
			return fault.Forbidden("change role", "only the owner can change roles")
		}

		target, err := q.GetMembership(ctx, noteID, userID)
		if err != nil {
			return err
		}
		touchesOwner := role.ID == rbac.RoleOwner || rbac.RoleID(target.RoleID) == rbac.RoleOwner
		if touchesOwner && actor.Role != rbac.RoleOwner {
			return fault.Forbidden("change role", "only owners can grant or remove the owner role")
		}
		if rbac.RoleID(target.RoleID) == rbac.RoleOwner && role.ID != rbac.RoleOwner {
			if err := ensureAnotherOwner(ctx, q, noteID); err != nil {
				return err
			}
		}

		if err := q.UpdateMembershipRole(ctx, noteID, userID, string(role.ID), s.now().UTC()); err != nil {
			return err
		}
		target.RoleID = string(role.ID)
		out = s.describe(target)
		return nil
	})
	if err != nil {
		return Member{}, fault.Aborted("change role", err)
	}
	return out, nil
}

// Revoke removes userID from noteID. Actors cannot revoke themselves and only
// Owners can revoke an Owner.
func (s *Service) Revoke(ctx context.Context, actorID, noteID, userID string) error {
	if actorID == userID {
		return fault.Forbidden("revoke member", "you cannot revoke your own membership")
	}

	err := s.store.InTx(ctx, func(q *store.Queries) error {
		actor, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermManageContributors, "revoke member")
		if err != nil {
			return err
		}
		target, err := q.GetMembership(ctx, noteID, userID)
		if err != nil {
			return err
		}
		if rbac.RoleID(target.RoleID) == rbac.RoleOwner {
			if actor.Role != rbac.RoleOwner {
				return fault.Forbidden("revoke member", "only owners can revoke an owner")
			}
			if err := ensureAnotherOwner(ctx, q, noteID); err != nil {
				return err
			}
		}
		return q.DeleteMembership(ctx, noteID, userID)
	})
	return fault.Aborted("revoke member", err)
}

// TransferOwnership makes userID an Owner. Under the single-owner policy the
// acting Owner is demoted to Manager in the same transaction.
func (s *Service) TransferOwnership(ctx context.Context, actorID, noteID, userID string) (Member, error) {
	var out Member
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		actor, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermManageContributors, "transfer ownership")
		if err != nil {
			return err
		}
		if actor.Role != rbac.RoleOwner {
			return fault.Forbidden("transfer ownership", "only the owner can transfer ownership")
		}
		if actorID == userID {
			return fault.Conflict("transfer ownership", "you already own this note")
		}
		target, err := q.GetMembership(ctx, noteID, userID)
		if err != nil {
			return err
		}
		if rbac.RoleID(target.RoleID) == rbac.RoleOwner {
			return fault.Conflict("transfer ownership", "user is already an owner")
		}

		now := s.now().UTC()
		if s.policy == PolicySingleOwner {
			if err := q.UpdateMembershipRole(ctx, noteID, actorID, string(demotedRole), now); err != nil {
				return err
			}
		}
		if err := q.UpdateMembershipRole(ctx, noteID, userID, string(rbac.RoleOwner), now); err != nil {
			return err
		}
		target.RoleID = string(rbac.RoleOwner)
		out = s.describe(target)
		return nil
	})
	if err != nil {
		return Member{}, fault.Aborted("transfer ownership", err)
	}
	return out, nil
}

func (s *Service) describe(m store.Membership) Member {
	name := m.RoleID
	if role, ok := s.authz.Registry().Role(rbac.RoleID(m.RoleID)); ok {
		name = role.Name
	}
	return Member{Membership: m, RoleName: name}
}

func ensureAnotherOwner(ctx context.Context, q *store.Queries, noteID string) error {
	owners, err := q.CountMembershipsWithRole(ctx, noteID, string(rbac.RoleOwner))
	if err != nil {
		return err
	}
	if owners <= 1 {
		return fault.Conflict("change role", "a note must keep at least one owner")
	}
	return nil
}
