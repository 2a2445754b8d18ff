package grants

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"notegate/api/internal/auth"
	"notegate/api/internal/fault"
	"notegate/api/internal/membership"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
	"notegate/api/internal/util"
)

// IssuedInvitation carries the clear token, which is only available at issue
// time. The stored record holds its hash.
type IssuedInvitation struct {
	store.Invitation
	Token string
}

func normalizeEmail(value string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(value))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fault.InvalidInput("issue invitation", "a valid email is required")
	}
	return email, nil
}

// IssueInvitation invites email to noteID with the role named roleName.
func (s *Service) IssueInvitation(ctx context.Context, actorID, noteID, email, roleName string) (IssuedInvitation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return IssuedInvitation{}, err
	}
	role, ok := s.authz.Registry().RoleByName(roleName)
	if !ok {
		return IssuedInvitation{}, fault.NotFound("issue invitation", "role not found")
	}
	if role.ID == rbac.RoleOwner && s.opts.OwnershipPolicy == membership.PolicySingleOwner {
		return IssuedInvitation{}, fault.InvalidInput("issue invitation", "ownership is transferred, not invited")
	}

	var (
		issued IssuedInvitation
		notice InvitationNotice
	)
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		actor, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermManageContributors, "issue invitation")
		if err != nil {
			return err
		}
		if role.ID == rbac.RoleOwner && actor.Role != rbac.RoleOwner {
			return fault.Forbidden("issue invitation", "only owners can invite owners")
		}
		note, err := q.GetNote(ctx, noteID)
		if err != nil {
			return err
		}

		member, err := q.IsMemberByEmail(ctx, noteID, email)
		if err != nil {
			return err
		}
		if member {
			return fault.Conflict("issue invitation", "user is already a member of this note")
		}

		now := s.now()
		existing, err := q.GetInvitationForEmail(ctx, noteID, email)
		switch {
		case errors.Is(err, fault.ErrNotFound):
		case err != nil:
			return err
		case existing.ExpiresAt.After(now):
			return fault.Conflict("issue invitation", "an invitation is already pending for this email")
		default:
			if err := q.DeleteInvitation(ctx, existing.ID); err != nil {
				return err
			}
		}

		expiresAt := now.Add(s.opts.InviteTTL).Truncate(time.Second)
		token, err := s.signer.Sign(auth.InviteClaims{
			Email:  email,
			NoteID: noteID,
			RoleID: string(role.ID),
			Exp:    expiresAt.Unix(),
		})
		if err != nil {
			return err
		}
		inv := store.Invitation{
			ID:        util.NewID("inv"),
			NoteID:    noteID,
			Email:     email,
			RoleID:    string(role.ID),
			SentBy:    actorID,
			TokenHash: auth.HashToken(token),
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		if err := q.InsertInvitation(ctx, inv); err != nil {
			return err
		}

		inviter := actorID
		if user, err := q.GetUserByID(ctx, actorID); err == nil {
			inviter = user.DisplayName
		}
		issued = IssuedInvitation{Invitation: inv, Token: token}
		notice = InvitationNotice{
			Email:       email,
			NoteID:      noteID,
			NoteTitle:   note.Title,
			RoleName:    role.Name,
			InviterName: inviter,
			Token:       token,
			ExpiresAt:   expiresAt,
		}
		return nil
	})
	if err != nil {
		return IssuedInvitation{}, fault.Aborted("issue invitation", err)
	}

	s.notify(notice)
	return issued, nil
}

// RedeemInvitation turns a live invitation into a membership for userID and
// consumes the invitation. A token that was already redeemed, revoked or has
// expired fails with InvalidToken.
func (s *Service) RedeemInvitation(ctx context.Context, token, userID string) (store.Membership, error) {
	const op = "redeem invitation"
	if userID == "" {
		return store.Membership{}, fault.Forbidden(op, "authentication required")
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		return store.Membership{}, fault.InvalidToken(op, err)
	}

	var created store.Membership
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		inv, err := q.GetInvitationByTokenHash(ctx, auth.HashToken(token))
		if errors.Is(err, fault.ErrNotFound) {
			return fault.InvalidToken(op, err)
		}
		if err != nil {
			return err
		}
		now := s.now()
		if !inv.ExpiresAt.After(now) {
			return fault.InvalidToken(op, auth.ErrExpiredToken)
		}
		if inv.NoteID != claims.NoteID || inv.Email != claims.Email || inv.RoleID != claims.RoleID {
			return fault.InvalidToken(op, auth.ErrInvalidToken)
		}

		user, err := q.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if s.opts.RequireEmailMatch && !strings.EqualFold(user.Email, inv.Email) {
			return fault.Forbidden(op, "this invitation was sent to a different email address")
		}

		if err := membership.Create(ctx, q, s.authz.Registry(), inv.NoteID, userID, rbac.RoleID(inv.RoleID), now); err != nil {
			return err
		}
		if err := q.DeleteInvitation(ctx, inv.ID); err != nil {
			if errors.Is(err, fault.ErrNotFound) {
				return fault.InvalidToken(op, err)
			}
			return err
		}
		created = store.Membership{
			NoteID:      inv.NoteID,
			UserID:      userID,
			RoleID:      inv.RoleID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return nil
	})
	if err != nil {
		return store.Membership{}, fault.Aborted(op, err)
	}

	s.log.WithFields(logrus.Fields{
		"note_id": created.NoteID,
		"user_id": userID,
		"role_id": created.RoleID,
	}).Info("invitation redeemed")
	return created, nil
}

// RevokeInvitation deletes a pending invitation so its token stops working
// before it expires.
func (s *Service) RevokeInvitation(ctx context.Context, actorID, invitationID string) error {
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		inv, err := q.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if _, err := s.authz.Require(ctx, q, actorID, inv.NoteID, rbac.PermManageContributors, "revoke invitation"); err != nil {
			return err
		}
		return q.DeleteInvitation(ctx, inv.ID)
	})
	return fault.Aborted("revoke invitation", err)
}

// ListPendingInvitations returns the unexpired invitations for noteID.
func (s *Service) ListPendingInvitations(ctx context.Context, actorID, noteID string) ([]store.Invitation, error) {
	var pending []store.Invitation
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermManageContributors, "list invitations"); err != nil {
			return err
		}
		all, err := q.ListInvitations(ctx, noteID)
		if err != nil {
			return err
		}
		now := s.now()
		pending = make([]store.Invitation, 0, len(all))
		for _, inv := range all {
			if inv.ExpiresAt.After(now) {
				pending = append(pending, inv)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fault.Aborted("list invitations", err)
	}
	return pending, nil
}
