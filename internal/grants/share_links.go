package grants

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notegate/api/internal/auth"
	"notegate/api/internal/fault"
	"notegate/api/internal/rbac"
	"notegate/api/internal/store"
	"notegate/api/internal/util"
)

type Scope string

const (
	ScopeReadOnly    Scope = "read-only"
	ScopeCommentOnly Scope = "comment-only"
)

func ParseScope(value string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(value))) {
	case ScopeReadOnly, "":
		return ScopeReadOnly, nil
	case ScopeCommentOnly:
		return ScopeCommentOnly, nil
	}
	return "", fault.InvalidInput("share link scope", fmt.Sprintf("unknown scope %q", value))
}

// Permits reports whether a link of this scope grants perm. No scope grants
// anything beyond reading and commenting.
func (s Scope) Permits(perm rbac.Permission) bool {
	switch perm {
	case rbac.PermReadNote:
		return s == ScopeReadOnly || s == ScopeCommentOnly
	case rbac.PermAddComments:
		return s == ScopeCommentOnly
	}
	return false
}

type IssuedShareLink struct {
	store.ShareLink
	Token string
}

// SharedNote is what a share-link holder can see.
type SharedNote struct {
	Note   store.Note
	LinkID string
	Scope  Scope
}

// IssueShareLink creates a link for noteID. A ttl of zero uses the configured
// default.
func (s *Service) IssueShareLink(ctx context.Context, actorID, noteID, scopeName string, ttl time.Duration) (IssuedShareLink, error) {
	scope, err := ParseScope(scopeName)
	if err != nil {
		return IssuedShareLink{}, err
	}
	if ttl < 0 || ttl > MaxShareLinkTTL {
		return IssuedShareLink{}, fault.InvalidInput("issue share link", "expiry is out of range")
	}
	if ttl == 0 {
		ttl = s.opts.ShareLinkTTL
	}

	var issued IssuedShareLink
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermManageContributors, "issue share link"); err != nil {
			return err
		}
		if _, err := q.GetNote(ctx, noteID); err != nil {
			return err
		}
		token, err := auth.RandomToken()
		if err != nil {
			return err
		}
		now := s.now()
		link := store.ShareLink{
			ID:        util.NewID("link"),
			NoteID:    noteID,
			TokenHash: auth.HashToken(token),
			CreatedBy: actorID,
			Scope:     string(scope),
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		if err := q.InsertShareLink(ctx, link); err != nil {
			return err
		}
		issued = IssuedShareLink{ShareLink: link, Token: token}
		return nil
	})
	if err != nil {
		return IssuedShareLink{}, fault.Aborted("issue share link", err)
	}
	return issued, nil
}

// ResolveShareLink returns the note behind token. Missing and expired links
// are indistinguishable.
func (s *Service) ResolveShareLink(ctx context.Context, token string) (SharedNote, error) {
	const op = "resolve share link"
	if strings.TrimSpace(token) == "" {
		return SharedNote{}, fault.NotFound(op, "link not found or expired")
	}

	var shared SharedNote
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		link, err := q.GetShareLinkByTokenHash(ctx, auth.HashToken(token))
		if err != nil {
			return err
		}
		if !link.ExpiresAt.After(s.now()) {
			return fault.NotFound(op, "link not found or expired")
		}
		note, err := q.GetNote(ctx, link.NoteID)
		if err != nil {
			return err
		}
		shared = SharedNote{Note: note, LinkID: link.ID, Scope: Scope(link.Scope)}
		return nil
	})
	if err != nil {
		return SharedNote{}, fault.Aborted(op, err)
	}
	return shared, nil
}

func (s *Service) RevokeShareLink(ctx context.Context, actorID, linkID string) error {
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		link, err := q.GetShareLink(ctx, linkID)
		if err != nil {
			return err
		}
		if _, err := s.authz.Require(ctx, q, actorID, link.NoteID, rbac.PermManageContributors, "revoke share link"); err != nil {
			return err
		}
		return q.DeleteShareLink(ctx, link.ID)
	})
	return fault.Aborted("revoke share link", err)
}

// ListShareLinks returns the live links for noteID. Tokens are not
// recoverable; only ids, scopes and expiry are listed.
func (s *Service) ListShareLinks(ctx context.Context, actorID, noteID string) ([]store.ShareLink, error) {
	var live []store.ShareLink
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		if _, err := s.authz.Require(ctx, q, actorID, noteID, rbac.PermManageContributors, "list share links"); err != nil {
			return err
		}
		all, err := q.ListShareLinks(ctx, noteID)
		if err != nil {
			return err
		}
		now := s.now()
		live = make([]store.ShareLink, 0, len(all))
		for _, link := range all {
			if link.ExpiresAt.After(now) {
				live = append(live, link)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fault.Aborted("list share links", err)
	}
	return live, nil
}
